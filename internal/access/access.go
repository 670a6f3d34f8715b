// Package access implements the capability checks consumed by the
// annotation store.  Policies are grant lists copied from the folder that
// contains the annotated image; levels follow the usual read < write <
// admin ladder.
package access

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"image-annotation-service/internal/errors"
)

// Level is a required capability
type Level int

const (
	READ Level = iota
	WRITE
	ADMIN
)

func (l Level) String() string {
	switch l {
	case READ:
		return "read"
	case WRITE:
		return "write"
	case ADMIN:
		return "admin"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// User identifies a caller.  Admin users pass every check.
type User struct {
	ID     string
	Admin  bool
	Groups []string
}

// Grant gives one user or group a capability level
type Grant struct {
	ID    string `json:"id"`
	Level Level  `json:"level"`
}

// Policy is the access policy attached to an annotation or folder.  A nil
// *Policy on a stored record marks a legacy record that predates access
// control and needs a backfill.
type Policy struct {
	Users  []Grant `json:"users"`
	Groups []Grant `json:"groups"`
}

// Value implements driver.Valuer so policies persist as jsonb
func (p Policy) Value() (driver.Value, error) {
	return json.Marshal(p)
}

// Scan implements sql.Scanner
func (p *Policy) Scan(value any) error {
	if value == nil {
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	}
	return fmt.Errorf("unsupported access policy column type %T", value)
}

// SetUserAccess grants a user a level, replacing any existing grant
func (p *Policy) SetUserAccess(userID string, level Level) {
	for i, g := range p.Users {
		if g.ID == userID {
			p.Users[i].Level = level
			return
		}
	}
	p.Users = append(p.Users, Grant{ID: userID, Level: level})
}

// UserLevel returns the highest level granted to the user directly or
// through one of their groups, or -1 when nothing is granted
func (p *Policy) UserLevel(user *User) Level {
	granted := Level(-1)
	if p == nil || user == nil {
		return granted
	}
	for _, g := range p.Users {
		if g.ID == user.ID && g.Level > granted {
			granted = g.Level
		}
	}
	for _, g := range p.Groups {
		for _, member := range user.Groups {
			if g.ID == member && g.Level > granted {
				granted = g.Level
			}
		}
	}
	return granted
}

// Copy returns a deep copy of the policy
func (p *Policy) Copy() *Policy {
	if p == nil {
		return nil
	}
	cp := &Policy{
		Users:  append([]Grant(nil), p.Users...),
		Groups: append([]Grant(nil), p.Groups...),
	}
	return cp
}

// Controlled is anything carrying an access policy
type Controlled interface {
	AccessPolicy() *Policy
	IsPublic() bool
}

// RequireAccess fails with an authorization error when the user lacks the
// required level on doc.  Public documents satisfy READ for anyone,
// including anonymous callers.
func RequireAccess(doc Controlled, user *User, level Level) error {
	if HasAccess(doc, user, level) {
		return nil
	}
	who := "anonymous"
	if user != nil {
		who = user.ID
	}
	return errors.Authorization(
		fmt.Sprintf("%s access denied for user %s", level, who), nil)
}

// HasAccess reports whether the user holds the required level on doc
func HasAccess(doc Controlled, user *User, level Level) bool {
	if user != nil && user.Admin {
		return true
	}
	if level == READ && doc.IsPublic() {
		return true
	}
	return doc.AccessPolicy().UserLevel(user) >= level
}
