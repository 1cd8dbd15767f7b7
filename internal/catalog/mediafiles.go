package catalog

// InsertMediaFile inserts a single MediaFile row. I1 (id uniqueness) is
// enforced by the primary key constraint; a duplicate id surfaces as
// ErrBackend so the Dispatcher can treat it as a hash collision (spec §4.F).
func (s *Store) InsertMediaFile(m *MediaFile) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	return translate(s.conn().Create(m).Error)
}

// InsertMediaFiles inserts many MediaFile rows in one statement.
func (s *Store) InsertMediaFiles(ms []*MediaFile) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	if len(ms) == 0 {
		return nil
	}
	return translate(s.conn().Create(ms).Error)
}

// GetMediaFile fetches a MediaFile by id.
func (s *Store) GetMediaFile(id string) (*MediaFile, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var m MediaFile
	if err := s.conn().First(&m, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

// GetMediaFiles fetches many MediaFile rows by id, in no particular order.
func (s *Store) GetMediaFiles(ids []string) ([]*MediaFile, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	var ms []*MediaFile
	if err := s.conn().Where("id IN ?", ids).Find(&ms).Error; err != nil {
		return nil, translate(err)
	}
	return ms, nil
}

// GetAllMediaFiles returns a page of all media files, newest-first.
func (s *Store) GetAllMediaFiles(p Page) ([]*MediaFile, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var ms []*MediaFile
	q := s.conn().Order("added_time DESC, id DESC").Offset(p.offset()).Limit(p.limit())
	if err := q.Find(&ms).Error; err != nil {
		return nil, translate(err)
	}
	return ms, nil
}

// GetMediaFilesByUser returns a page of media files submitted by userId,
// newest-first (P4): concatenation over all pages equals the unpaged list.
func (s *Store) GetMediaFilesByUser(userId string, p Page) ([]*MediaFile, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var ms []*MediaFile
	q := s.conn().Where("user_id = ?", userId).
		Order("added_time DESC, id DESC").
		Offset(p.offset()).Limit(p.limit())
	if err := q.Find(&ms).Error; err != nil {
		return nil, translate(err)
	}
	return ms, nil
}

// UpdateMediaFiles applies a partial update (GORM-style map) to the given
// media file ids in one statement.
func (s *Store) UpdateMediaFiles(ids []string, updates map[string]interface{}) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return translate(s.conn().Model(&MediaFile{}).Where("id IN ?", ids).Updates(updates).Error)
}

// RenameMediaFile sets the mutable title field (the only API-driven mutation, spec §3).
func (s *Store) RenameMediaFile(id, title string) error {
	return s.UpdateMediaFiles([]string{id}, map[string]interface{}{"title": title})
}

// SetRecompressionDone marks a media file's transcode as complete.
func (s *Store) SetRecompressionDone(id string, when interface{}) error {
	return s.UpdateMediaFiles([]string{id}, map[string]interface{}{"recompression_done": when})
}

// DeleteMediaFile removes one MediaFile row. Per the clarified open
// question (spec §9a / SPEC_FULL.md) this does not cascade to UserMessage rows.
func (s *Store) DeleteMediaFile(id string) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	return translate(s.conn().Delete(&MediaFile{}, "id = ?", id).Error)
}

// DeleteMediaFiles removes many MediaFile rows by id.
func (s *Store) DeleteMediaFiles(ids []string) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return translate(s.conn().Delete(&MediaFile{}, "id IN ?", ids).Error)
}

// CountMediaFiles returns the total number of MediaFile rows, used by
// tests asserting rollback left the catalog unchanged (P5, scenario 6).
func (s *Store) CountMediaFiles() (int64, error) {
	if err := s.checkBroken(); err != nil {
		return 0, err
	}
	var n int64
	if err := s.conn().Model(&MediaFile{}).Count(&n).Error; err != nil {
		return 0, translate(err)
	}
	return n, nil
}
