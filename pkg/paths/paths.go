// Package paths builds the canonical backend paths of canvas data.
//
//	users/{uid}/{notes|images|files}/{id}
//	users/{uid}/viewport
//	sharedCanvases/{cid}/meta
//	sharedCanvases/{cid}/{notes|images|files}/{id}
//	sharedCanvases/{cid}/participants/{uid}
//	sharedCanvases/{cid}/presence/{uid}
//	shareTokens/{token}
package paths

import (
	"github.com/surrealdb/canvassync/pkg/backend"
	"github.com/surrealdb/canvassync/pkg/models"
)

const (
	usersRoot       = "users"
	canvasesRoot    = "sharedCanvases"
	shareTokensRoot = "shareTokens"
)

// User is the root of a user's own canvas.
func User(uid string) string {
	return backend.Join(usersRoot, uid)
}

// Canvas is the root of a shared canvas.
func Canvas(cid string) string {
	return backend.Join(canvasesRoot, cid)
}

// Collection is the collection of kind below a canvas root.
func Collection(root string, kind models.Kind) string {
	return backend.Join(root, kind.Collection())
}

// Entity is one entity below a canvas root.
func Entity(root string, kind models.Kind, id string) string {
	return backend.Join(root, kind.Collection(), id)
}

func Viewport(root string) string {
	return backend.Join(root, "viewport")
}

func Meta(cid string) string {
	return backend.Join(Canvas(cid), "meta")
}

func Participants(cid string) string {
	return backend.Join(Canvas(cid), "participants")
}

func Participant(cid, uid string) string {
	return backend.Join(Participants(cid), uid)
}

func Presence(cid string) string {
	return backend.Join(Canvas(cid), "presence")
}

func PresenceOf(cid, uid string) string {
	return backend.Join(Presence(cid), uid)
}

func ShareToken(token string) string {
	return backend.Join(shareTokensRoot, token)
}

// UserCanvas indexes the shared canvases a user participates in.
func UserCanvas(uid, cid string) string {
	return backend.Join(User(uid), "sharedCanvases", cid)
}
