package api

import (
	"github.com/go-pluto/gallery/coordinator"
	"github.com/go-pluto/gallery/view"
)

// Structs

// File is the JSON form of a view entry.
type File struct {
	Filename  string `json:"filename"`
	Ref       string `json:"ref"`
	Size      int    `json:"size"`
	Writer    string `json:"writer"`
	Seq       uint64 `json:"seq"`
	Timestamp int64  `json:"timestamp"`
}

// Status is the JSON form of a coordinator status.
type Status struct {
	Member   bool   `json:"member"`
	Root     string `json:"root,omitempty"`
	Local    string `json:"local"`
	Writable bool   `json:"writable"`
	Joining  string `json:"joining"`
	Files    int    `json:"files"`
	Writers  int    `json:"writers"`
	Invites  int    `json:"invites"`
}

// Event is pushed to websocket subscribers. Type names
// the notification, the other fields depend on it.
type Event struct {
	Type     string `json:"type"`
	Files    []File `json:"files,omitempty"`
	Filename string `json:"filename,omitempty"`
	Writer   string `json:"writer,omitempty"`
	Token    string `json:"token,omitempty"`
	Error    string `json:"error,omitempty"`
}

type tokenBody struct {
	Token string `json:"token"`
}

type rootBody struct {
	Root string `json:"root"`
}

type errorBody struct {
	Error string `json:"error"`
}

// Constants

// Event types.
const (
	EventView         = "view"
	EventUpload       = "upload"
	EventInvite       = "invite"
	EventInviteError  = "invite_error"
	EventWriterJoined = "writer_joined"
	EventJoinTimeout  = "join_timeout"
)

// Functions

func toFile(e view.Entry) File {

	return File{
		Filename:  e.Filename,
		Ref:       e.Ref,
		Size:      e.Size,
		Writer:    string(e.Writer),
		Seq:       e.Seq,
		Timestamp: e.Timestamp,
	}
}

func toFiles(entries []view.Entry) []File {

	files := make([]File, len(entries))
	for i, e := range entries {
		files[i] = toFile(e)
	}

	return files
}

func toStatus(st coordinator.Status) Status {

	return Status{
		Member:   st.Member,
		Root:     string(st.Root),
		Local:    string(st.Local),
		Writable: st.Writable,
		Joining:  st.Joining.String(),
		Files:    st.Files,
		Writers:  st.Writers,
		Invites:  st.Invites,
	}
}
