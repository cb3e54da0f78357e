package models

import "fmt"

// Role governs whether a participant's mutations are honored.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

func (r Role) Valid() bool {
	return r == RoleOwner || r == RoleEditor || r == RoleViewer
}

// CanEdit reports whether the role may perform structural mutations.
func (r Role) CanEdit() bool {
	return r == RoleOwner || r == RoleEditor
}

// Palette holds participant colors, assigned by join order.
var Palette = []string{
	"#E57373", "#64B5F6", "#81C784", "#FFD54F",
	"#BA68C8", "#4DB6AC", "#FF8A65", "#A1887F",
}

// PaletteColor returns the color for the participant joining when count
// participants are already present.
func PaletteColor(count int) string {
	if count < 0 {
		count = 0
	}
	return Palette[count%len(Palette)]
}

// DefaultNoteColor is given to notes created without a color.
const DefaultNoteColor = "#FFF59D"

// CanvasMeta describes a shared canvas.
type CanvasMeta struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	OwnerID   string `json:"ownerId"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt"`
}

type Participant struct {
	UserID       string `json:"userId"`
	Role         Role   `json:"role"`
	DisplayName  string `json:"displayName,omitempty"`
	Color        string `json:"color"`
	JoinedAt     int64  `json:"joinedAt"`
	LastActiveAt int64  `json:"lastActiveAt"`
	IsOnline     bool   `json:"isOnline"`
}

// CanEdit applies the stored role, except that the canvas owner always edits.
func (p Participant) CanEdit(meta CanvasMeta) bool {
	if meta.OwnerID != "" && p.UserID == meta.OwnerID {
		return true
	}
	return p.Role.CanEdit()
}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PresenceRecord struct {
	UserID         string `json:"userId"`
	IsOnline       bool   `json:"isOnline"`
	LastActiveAt   int64  `json:"lastActiveAt"`
	CursorPosition *Point `json:"cursorPosition,omitempty"`
	SelectedItemID string `json:"selectedItemId,omitempty"`
}

// ShareToken is the backend record behind an invite. Used flips to true once.
type ShareToken struct {
	Token     string `json:"token"`
	CanvasID  string `json:"canvasId"`
	Role      Role   `json:"role"`
	CreatedBy string `json:"createdBy"`
	CreatedAt int64  `json:"createdAt"`
	ExpiresAt int64  `json:"expiresAt,omitempty"`
	Used      bool   `json:"used"`
	UsedBy    string `json:"usedBy,omitempty"`
	UsedAt    int64  `json:"usedAt,omitempty"`
}

// Identity is supplied by the login flow; the core never authenticates.
type Identity struct {
	UserID      string
	Email       string
	DisplayName string
	PhotoURL    string
	IsAnonymous bool
}

func (i Identity) String() string {
	if i.IsAnonymous {
		return fmt.Sprintf("anonymous(%s)", i.UserID)
	}
	return i.UserID
}
