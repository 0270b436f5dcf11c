package domain

import "time"

// Idempotency represents a recorded result of a previously processed create
// request, keyed by (user_id, scope, key). Scope is the resource collection
// ("moods", "sessions", "tasks"). It lets a client retry a POST safely: the
// replay returns the record created the first time instead of inserting a
// duplicate.
type Idempotency struct {
	ID        string    `gorm:"type:char(36);primaryKey"                                         bson:"_id"`
	UserID    string    `gorm:"type:varchar(64);not null;uniqueIndex:ux_user_scope_key,priority:1"  bson:"userId"`
	Scope     string    `gorm:"type:varchar(32);not null;uniqueIndex:ux_user_scope_key,priority:2"  bson:"scope"`
	Key       string    `gorm:"type:varchar(255);not null;uniqueIndex:ux_user_scope_key,priority:3" bson:"key"`
	RecordID  string    `gorm:"type:char(36);not null"                                           bson:"recordId"`
	Status    int       `gorm:"not null"                                                         bson:"status"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"                                          bson:"createdAt"`
	ExpiresAt time.Time `gorm:"not null;index"                                                   bson:"expiresAt"`
}

// TableName implements the GORM tabler interface.
func (Idempotency) TableName() string { return "idempotency" }
