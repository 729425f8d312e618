package database

import (
	"time"

	"gorm.io/datatypes"

	"pipeline/internal/profile"
)

// Application statuses as stored in the status column.
const (
	StatusApplied      = "Applied"
	StatusInterviewing = "Interviewing"
	StatusAccepted     = "Accepted"
	StatusRejected     = "Rejected"
	StatusWithdrawn    = "Withdrawn"
)

// User 表示系统中的账号信息。
type User struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	Username           string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Email              string    `gorm:"uniqueIndex;size:255;not null" json:"email"`
	PasswordHash       string    `gorm:"size:255;not null" json:"-"`
	IsAdmin            bool      `gorm:"not null;default:false" json:"isAdmin"`
	MustChangePassword bool      `gorm:"not null;default:false" json:"mustChangePassword"`
	BankedCredits      int       `gorm:"not null;default:0" json:"bankedCredits"`
	ReferralCode       string    `gorm:"uniqueIndex;size:16;not null" json:"referralCode"`
	ReferredBy         *string   `gorm:"size:16" json:"referredBy,omitempty"`
	Timezone           string    `gorm:"size:64" json:"timezone,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// Referral 记录一次推荐奖励，和奖励发放在同一事务中写入。
type Referral struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ReferrerID uint      `gorm:"index;not null" json:"referrerId"`
	RefereeID  uint      `gorm:"uniqueIndex;not null" json:"refereeId"`
	Code       string    `gorm:"size:16;not null" json:"code"`
	Bonus      int       `gorm:"not null" json:"bonus"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Job is a listing. Inactive jobs stay visible on existing applications.
type Job struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	JobIdentifier string     `gorm:"uniqueIndex;size:64;not null" json:"jobIdentifier"`
	Title         string     `gorm:"size:255;not null" json:"title"`
	Company       string     `gorm:"size:255;not null;index" json:"company"`
	Location      string     `gorm:"size:255" json:"location"`
	Salary        string     `gorm:"size:128" json:"salary"`
	Type          string     `gorm:"size:64;index" json:"type"`
	Description   string     `gorm:"type:text" json:"description"`
	Requirements  string     `gorm:"type:text" json:"requirements"`
	Source        string     `gorm:"size:64" json:"source"`
	SourceURL     string     `gorm:"size:1024" json:"sourceUrl"`
	IsActive      bool       `gorm:"not null;default:true;index" json:"isActive"`
	LastCheckedAt *time.Time `json:"lastCheckedAt,omitempty"`
	DeactivatedAt *time.Time `json:"deactivatedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// Profile 与 User 一对一，首次保存时创建。
type Profile struct {
	ID             uint                                       `gorm:"primaryKey" json:"id"`
	UserID         uint                                       `gorm:"uniqueIndex;not null" json:"userId"`
	FullName       string                                     `gorm:"size:255" json:"fullName"`
	Headline       string                                     `gorm:"size:255" json:"headline"`
	Summary        string                                     `gorm:"type:text" json:"summary"`
	Phone          string                                     `gorm:"size:64" json:"phone"`
	Location       string                                     `gorm:"size:255" json:"location"`
	Education      datatypes.JSONSlice[profile.Education]     `json:"education"`
	Experience     datatypes.JSONSlice[profile.Experience]    `json:"experience"`
	Skills         datatypes.JSONSlice[profile.Skill]         `json:"skills"`
	Certifications datatypes.JSONSlice[profile.Certification] `json:"certifications"`
	Languages      datatypes.JSONSlice[profile.Language]      `json:"languages"`
	Projects       datatypes.JSONSlice[profile.Project]       `json:"projects"`
	Documents      datatypes.JSONSlice[profile.Document]      `json:"documents"`
	CreatedAt      time.Time                                  `json:"createdAt"`
	UpdatedAt      time.Time                                  `json:"updatedAt"`
}

// StatusEntry is one step of an application's status history.
type StatusEntry struct {
	Status string    `json:"status"`
	Date   time.Time `json:"date"`
}

// ApplicationData is what the applicant submitted alongside the application.
type ApplicationData struct {
	CoverLetter string            `json:"coverLetter,omitempty"`
	ResumeURL   string            `json:"resumeUrl,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
}

// Application 连接用户与职位，同时是每日额度统计的依据（applied_at）。
type Application struct {
	ID              uint                                `gorm:"primaryKey" json:"id"`
	JobID           uint                                `gorm:"not null;index" json:"jobId"`
	UserID          uint                                `gorm:"not null;index:idx_applications_user_applied,priority:1" json:"userId"`
	Status          string                              `gorm:"size:32;not null;index" json:"status"`
	AppliedAt       time.Time                           `gorm:"not null;index:idx_applications_user_applied,priority:2" json:"appliedAt"`
	CreditSource    string                              `gorm:"size:16;not null" json:"creditSource"`
	StatusHistory   datatypes.JSONSlice[StatusEntry]    `json:"statusHistory"`
	ApplicationData datatypes.JSONType[ApplicationData] `json:"applicationData"`
	Notes           string                              `gorm:"type:text" json:"notes,omitempty"`
	NextStep        string                              `gorm:"size:512" json:"nextStep,omitempty"`
	NextStepDueDate *time.Time                          `json:"nextStepDueDate,omitempty"`
	Job             *Job                                `gorm:"foreignKey:JobID" json:"job,omitempty"`
	CreatedAt       time.Time                           `json:"createdAt"`
	UpdatedAt       time.Time                           `json:"updatedAt"`
}

// Message 属于某个申请，由申请人或管理员发送。
type Message struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	ApplicationID  uint       `gorm:"not null;index" json:"applicationId"`
	SenderID       uint       `gorm:"not null;index" json:"senderId"`
	SenderUsername string     `gorm:"size:64;not null" json:"senderUsername"`
	Content        string     `gorm:"type:text;not null" json:"content"`
	IsFromAdmin    bool       `gorm:"not null;default:false" json:"isFromAdmin"`
	IsRead         bool       `gorm:"not null;default:false" json:"isRead"`
	ReadAt         *time.Time `json:"readAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// Notification metadata is decoded per Type by the notify package.
type Notification struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	UserID    uint           `gorm:"not null;index" json:"userId"`
	Type      string         `gorm:"size:64;not null" json:"type"`
	Metadata  datatypes.JSON `json:"metadata"`
	IsRead    bool           `gorm:"not null;default:false;index" json:"isRead"`
	CreatedAt time.Time      `json:"createdAt"`
}

type ReportedJob struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	JobID      uint       `gorm:"not null;index" json:"jobId"`
	UserID     uint       `gorm:"not null;index" json:"userId"`
	Reason     string     `gorm:"size:32;not null" json:"reason"`
	Comments   string     `gorm:"type:text" json:"comments,omitempty"`
	Status     string     `gorm:"size:32;not null;default:pending;index" json:"status"`
	AdminNotes string     `gorm:"type:text" json:"adminNotes,omitempty"`
	ReviewedBy *uint      `json:"reviewedBy,omitempty"`
	ReviewedAt *time.Time `json:"reviewedAt,omitempty"`
	Job        *Job       `gorm:"foreignKey:JobID" json:"job,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

type Feedback struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"userId"`
	Rating    int       `gorm:"not null" json:"rating"`
	Category  string    `gorm:"size:32;not null" json:"category"`
	Comment   string    `gorm:"type:text" json:"comment,omitempty"`
	Status    string    `gorm:"size:16;not null;default:new" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// TableName keeps the singular table name.
func (Feedback) TableName() string { return "feedback" }
