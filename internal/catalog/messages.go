package catalog

// InsertUserMessage persists a UserMessage row (used for persist=true
// notifications, spec §4.H).
func (s *Store) InsertUserMessage(m *UserMessage) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	return translate(s.conn().Create(m).Error)
}

// GetUserMessagesByUser returns a page of messages for a user, newest-first.
func (s *Store) GetUserMessagesByUser(userId string, p Page) ([]*UserMessage, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var ms []*UserMessage
	q := s.conn().Where("user_id = ?", userId).
		Order("created_at DESC, id DESC").
		Offset(p.offset()).Limit(p.limit())
	if err := q.Find(&ms).Error; err != nil {
		return nil, translate(err)
	}
	return ms, nil
}

// GetUnseenUserMessages returns every unseen persistent message for a
// user, used to replay on login (spec §4.H).
func (s *Store) GetUnseenUserMessages(userId string) ([]*UserMessage, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var ms []*UserMessage
	q := s.conn().Where("user_id = ? AND seen = ?", userId, false).Order("created_at ASC, id ASC")
	if err := q.Find(&ms).Error; err != nil {
		return nil, translate(err)
	}
	return ms, nil
}

// MarkMessageSeen toggles a message's seen flag to true (P8).
func (s *Store) MarkMessageSeen(id int64) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	return translate(s.conn().Model(&UserMessage{}).Where("id = ?", id).
		Update("seen", true).Error)
}

// MarkMessagesSeen toggles the seen flag for many messages at once.
func (s *Store) MarkMessagesSeen(ids []int64) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	return translate(s.conn().Model(&UserMessage{}).Where("id IN ?", ids).
		Update("seen", true).Error)
}
