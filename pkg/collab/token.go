package collab

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/surrealdb/canvassync/pkg/constants"
	"github.com/surrealdb/canvassync/pkg/models"
)

const issuer = "canvassync"

// inviteClaims is the signed part of an invite. The jti names the
// shareTokens record that tracks whether the invite was used.
type inviteClaims struct {
	CanvasID string      `json:"canvasId"`
	Role     models.Role `json:"role"`
	jwt.RegisteredClaims
}

// Invite is a verified invite token.
type Invite struct {
	ID        string
	CanvasID  string
	Role      models.Role
	CreatedBy string
	ExpiresAt time.Time
}

func (s *Service) signInvite(inv Invite, now time.Time) (string, error) {
	cl := inviteClaims{
		CanvasID: inv.CanvasID,
		Role:     inv.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        inv.ID,
			Issuer:    issuer,
			Subject:   inv.CreatedBy,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(inv.ExpiresAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, cl).SignedString(s.secret)
}

// ParseInvite verifies the signature and expiry of an invite token without
// touching the backend.
func (s *Service) ParseInvite(raw string) (Invite, error) {
	var cl inviteClaims
	_, err := jwt.ParseWithClaims(raw, &cl, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithTimeFunc(s.now),
	)
	switch {
	case err == nil:
	case errors.Is(err, jwt.ErrTokenExpired):
		return Invite{}, constants.ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Invite{}, fmt.Errorf("%w: %v", constants.ErrTokenMalformed, err)
	default:
		return Invite{}, fmt.Errorf("%w: %v", constants.ErrTokenInvalid, err)
	}

	if cl.ID == "" || cl.CanvasID == "" || cl.ExpiresAt == nil {
		return Invite{}, constants.ErrTokenMalformed
	}
	if cl.Role != models.RoleEditor && cl.Role != models.RoleViewer {
		return Invite{}, fmt.Errorf("%w: role %q", constants.ErrTokenInvalid, cl.Role)
	}
	return Invite{
		ID:        cl.ID,
		CanvasID:  cl.CanvasID,
		Role:      cl.Role,
		CreatedBy: cl.Subject,
		ExpiresAt: cl.ExpiresAt.Time,
	}, nil
}
