package db

import "time"

type DeviceModel struct {
	ID           int64     `gorm:"primaryKey;autoIncrement:false"`
	Owner        []byte    `gorm:"type:bytea;index;not null"`
	BoundKey     []byte    `gorm:"type:bytea;not null"`
	RevokedCount int64     `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

func (DeviceModel) TableName() string { return "devices" }

type CredentialRevocationModel struct {
	DeviceID    int64     `gorm:"primaryKey;autoIncrement:false"`
	Fingerprint []byte    `gorm:"type:bytea;primaryKey"`
	RevokedAt   time.Time `gorm:"not null"`
}

func (CredentialRevocationModel) TableName() string { return "credential_revocations" }

type RegistryStateModel struct {
	ID        int16     `gorm:"primaryKey;autoIncrement:false"`
	Paused    bool      `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (RegistryStateModel) TableName() string { return "registry_state" }

// NotificationModel stores zero addresses and hashes as NULL.
type NotificationModel struct {
	Position      int64     `gorm:"primaryKey;autoIncrement:false"`
	TxID          string    `gorm:"type:uuid;not null"`
	Type          string    `gorm:"not null"`
	DeviceID      *int64    `gorm:"index"`
	Fingerprint   []byte    `gorm:"type:bytea"`
	Owner         []byte    `gorm:"type:bytea"`
	PreviousOwner []byte    `gorm:"type:bytea"`
	BoundKey      []byte    `gorm:"type:bytea"`
	Emergency     bool      `gorm:"not null"`
	EmittedAt     time.Time `gorm:"not null"`
}

func (NotificationModel) TableName() string { return "notifications" }
