package catalog

import "fmt"

// ErrHasReplies is returned when deleting a comment that has children
// (spec scenario 5: "Comment has replies.").
var ErrHasReplies = fmt.Errorf("%w: comment has replies", ErrOther)

// InsertComment inserts a single comment. When ParentId is set, the
// parent must exist and belong to the same media file (I2); a missing
// parent fails with ErrNotFound and a parent on another media file with
// ErrOther.
func (s *Store) InsertComment(c *Comment) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	if c.ParentId != nil {
		var parent Comment
		if err := s.conn().First(&parent, "id = ?", *c.ParentId).Error; err != nil {
			return translate(err)
		}
		if parent.VideoId != c.VideoId {
			return fmt.Errorf("%w: parent comment belongs to a different media file", ErrOther)
		}
	}
	return translate(s.conn().Create(c).Error)
}

// GetComment fetches a comment by id.
func (s *Store) GetComment(id int64) (*Comment, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var c Comment
	if err := s.conn().First(&c, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

// GetCommentsByVideo returns a page of comments for a media file, newest-first.
func (s *Store) GetCommentsByVideo(videoId string, p Page) ([]*Comment, error) {
	if err := s.checkBroken(); err != nil {
		return nil, err
	}
	var cs []*Comment
	q := s.conn().Where("video_id = ?", videoId).
		Order("created_at DESC, id DESC").
		Offset(p.offset()).Limit(p.limit())
	if err := q.Find(&cs).Error; err != nil {
		return nil, translate(err)
	}
	return cs, nil
}

// SetCommentText updates a comment's text and edited timestamp.
func (s *Store) SetCommentText(id int64, text string, editedAt interface{}) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	return translate(s.conn().Model(&Comment{}).Where("id = ?", id).
		Updates(map[string]interface{}{"comment": text, "edited_at": editedAt}).Error)
}

// DeleteComment removes a comment, refusing if it has replies (the
// ordering invariant of spec §3: "a comment with children may not be
// deleted").
func (s *Store) DeleteComment(id int64) error {
	if err := s.checkBroken(); err != nil {
		return err
	}
	var childCount int64
	if err := s.conn().Model(&Comment{}).Where("parent_id = ?", id).Count(&childCount).Error; err != nil {
		return translate(err)
	}
	if childCount > 0 {
		return ErrHasReplies
	}
	return translate(s.conn().Delete(&Comment{}, "id = ?", id).Error)
}
