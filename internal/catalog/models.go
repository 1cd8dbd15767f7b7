package catalog

import "time"

// MediaFile is the primary catalog entity: a submitted video plus its
// technical metadata. Id is the 8-hex-character stable identifier
// computed by the identity hasher (spec §4.E).
type MediaFile struct {
	Id                  string `gorm:"primaryKey;size:8"`
	UserId              *string
	UserName            *string
	AddedTime           time.Time `gorm:"autoCreateTime"`
	OrigFilename        *string
	Title               *string
	RecompressionDone   *time.Time
	ThumbSheetCols      *int
	ThumbSheetRows      *int
	TotalFrames         int
	DurationSeconds     float64
	Fps                 string
	RawProbeData        string

	Comments []Comment `gorm:"foreignKey:VideoId;references:Id;constraint:OnDelete:CASCADE"`
}

func (MediaFile) TableName() string { return "media_files" }

// Comment is a user annotation attached to a MediaFile. Ids are a
// monotonically increasing integer primary key, never reused (P3).
type Comment struct {
	Id         int64  `gorm:"primaryKey;autoIncrement"`
	ParentId   *int64
	VideoId    string `gorm:"index;not null"`
	UserId     *string
	UserName   *string
	CreatedAt  time.Time `gorm:"autoCreateTime"`
	EditedAt   *time.Time
	Comment    string
	Timecode   *string
	Drawing    *string
}

func (Comment) TableName() string { return "comments" }

// EventType enumerates the UserMessage taxonomy of spec §4.H.
type EventType string

const (
	EventOk               EventType = "ok"
	EventError            EventType = "error"
	EventProgress         EventType = "progress"
	EventMediaFileAdded   EventType = "media-file-added"
	EventMediaFileUpdated EventType = "media-file-updated"
)

// UserMessage is a durable notification row (spec §3, §4.H).
type UserMessage struct {
	Id        int64  `gorm:"primaryKey;autoIncrement"`
	UserId    string `gorm:"index;not null"`
	EventName EventType
	MediaFileId *string
	CommentId   *int64
	Message     string
	Details     string
	Seen        bool
	CreatedAt   time.Time `gorm:"autoCreateTime"`
}

func (UserMessage) TableName() string { return "user_messages" }
