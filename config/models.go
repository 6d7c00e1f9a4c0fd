package config

import (
	"time"

	"gorm.io/datatypes"
)

// Dataset is one uploaded spreadsheet. At most one row has IsActive set.
type Dataset struct {
	ID         uint      `gorm:"primaryKey"`
	Filename   string    `gorm:"size:255;not null"`
	UploadedBy string    `gorm:"size:64;index"`
	UploadDate time.Time `gorm:"index"`
	IsActive   bool      `gorm:"index"`
	// ObjectKey locates the archived raw upload, empty when archiving is off.
	ObjectKey string `gorm:"size:512"`
}

func (Dataset) TableName() string {
	return "datasets"
}

// Student is one row of a dataset. Nil fields were missing in the source.
type Student struct {
	ID             uint `gorm:"primaryKey"`
	DatasetID      uint `gorm:"index;not null"`
	Firstname      *string
	Lastname       *string
	Sex            *string `gorm:"index"`
	Program        *string `gorm:"index"`
	Municipality   *string
	Income         *float64
	SHSType        *string `gorm:"column:shs_type"`
	SHSOrigin      *string `gorm:"column:shs_origin"`
	GWA            *float64 `gorm:"column:gwa"`
	Honors         string   `gorm:"size:32"`
	IncomeCategory string   `gorm:"size:32"`
}

func (Student) TableName() string {
	return "students"
}

// Cluster is a persisted k-means run. Centroids are in original feature units.
type Cluster struct {
	ID               uint           `gorm:"primaryKey"`
	DatasetID        uint           `gorm:"index;not null"`
	K                int            `gorm:"not null"`
	Centroids        datatypes.JSON // [][]float64
	Features         datatypes.JSON // []string, column order of Centroids
	Silhouette       float64
	DaviesBouldin    float64
	CalinskiHarabasz float64
	QualityComputed  bool
	CreatedAt        time.Time
}

func (Cluster) TableName() string {
	return "clusters"
}

// StudentCluster assigns a student to a cluster of a run.
type StudentCluster struct {
	ID            uint `gorm:"primaryKey"`
	StudentID     uint `gorm:"index;not null"`
	ClusterID     uint `gorm:"index;not null"`
	ClusterNumber int
}

func (StudentCluster) TableName() string {
	return "student_cluster"
}

// ActivityLog is an audit trail entry.
type ActivityLog struct {
	ID        uint   `gorm:"primaryKey"`
	UserID    string `gorm:"size:64;index"`
	Action    string `gorm:"size:128"`
	Details   string `gorm:"type:text"`
	CreatedAt time.Time
}

func (ActivityLog) TableName() string {
	return "activity_logs"
}
