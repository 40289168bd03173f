package chat

import (
	"context"
	"strings"

	"github.com/doubthub/doubthub/internal/media"
	"github.com/doubthub/doubthub/internal/store"
	"github.com/doubthub/doubthub/internal/types"
	"github.com/google/uuid"
)

// handlePublish persists a text message with the sender's denormalized
// name and role. The write is acknowledged: the client clears its input
// only on success.
func (s *Session) handlePublish(ctx context.Context, op *ClientMessage) {
	if len(s.rooms) == 0 {
		s.queueMessage(Warn(op.Id, "Please join a room to send messages."))
		return
	}
	if s.active == "" {
		s.queueMessage(Warn(op.Id, "Please select a room to send messages."))
		return
	}

	text := strings.TrimSpace(op.Publish.Content)
	if text == "" {
		return
	}

	name, role := s.senderIdentity(ctx)
	_, err := s.db.CreateMessage(ctx, store.CreateMessageParams{
		RoomId:     s.active,
		UserId:     s.user.Id,
		SenderName: name,
		SenderRole: role,
		Text:       text,
	})
	if err != nil {
		s.log.Printf("create message: %v", err)
		s.queueMessage(ErrInternalError(op.Id))
		return
	}

	s.stats.Incr(statMessagesSent)
	s.queueMessage(NoErrAccepted(op.Id))
}

// senderIdentity returns the cached profile name and role, re-fetching
// once when either is missing and falling back to placeholder labels.
func (s *Session) senderIdentity(ctx context.Context) (string, string) {
	if s.user.Name == "" || s.user.Role == "" {
		if user, err := s.db.GetUser(ctx, s.user.Id); err == nil {
			s.user.Name = user.Name
			s.user.Role = user.Role
		}
	}

	name, role := s.user.Name, s.user.Role
	if name == "" {
		name = types.UnknownName
	}
	if role == "" {
		role = types.UnknownRole
	}
	return name, role
}

// AttachRequest is a file attachment handed to the composer, optionally
// with text riding along.
type AttachRequest struct {
	FileName string
	MimeType string
	Size     int64
	Data     []byte
	Text     string
}

type attachReq struct {
	req   AttachRequest
	reply chan attachResp
}

type attachResp struct {
	uploadId string
	warn     string
}

// Attach validates the upload preconditions on the session loop and, when
// they hold, starts the upload in the background. Progress and the final
// outcome are pushed over the session's send channel; the returned warning
// is non-empty when the request was refused before any network call.
func (s *Session) Attach(req AttachRequest) (string, string) {
	r := &attachReq{req: req, reply: make(chan attachResp, 1)}

	select {
	case s.attachCh <- r:
	case <-s.stop:
		return "", "session closed"
	}

	select {
	case resp := <-r.reply:
		return resp.uploadId, resp.warn
	case <-s.stop:
		return "", "session closed"
	}
}

func (s *Session) handleAttach(ctx context.Context, r *attachReq) {
	if len(s.rooms) == 0 {
		r.reply <- attachResp{warn: "Please join a room to upload files."}
		return
	}
	if s.active == "" {
		r.reply <- attachResp{warn: "Please select a room to upload files."}
		return
	}
	if r.req.Size > media.MaxFileSize {
		r.reply <- attachResp{warn: "File size too large. Please choose a file smaller than 10MB."}
		return
	}
	if !s.uploader.Configured() {
		r.reply <- attachResp{warn: media.ErrNotConfigured.Error()}
		return
	}

	name, role := s.senderIdentity(ctx)
	uploadId := uuid.NewString()
	roomId := s.active

	s.stats.Incr(statUploadsStarted)
	s.pushUpload(&UploadStatus{Id: uploadId, Progress: 0, Uploading: true})

	go s.runUpload(ctx, uploadId, roomId, name, role, r.req)

	r.reply <- attachResp{uploadId: uploadId}
}

// runUpload performs the media host call and persists the message on
// success. Any failure surfaces to the user and resets the upload state
// without persisting a message.
func (s *Session) runUpload(ctx context.Context, uploadId, roomId, senderName, senderRole string, req AttachRequest) {
	progress := func(pct int) {
		s.pushUpload(&UploadStatus{Id: uploadId, Progress: pct, Uploading: pct < 100})
	}

	asset, err := s.uploader.Upload(ctx, req.FileName, req.MimeType, req.Data, progress)
	if err != nil {
		s.log.Printf("upload %q: %v", req.FileName, err)
		s.stats.Incr(statUploadsFailed)
		s.pushUpload(&UploadStatus{Id: uploadId, Error: err.Error()})
		return
	}

	_, err = s.db.CreateMessage(ctx, store.CreateMessageParams{
		RoomId:     roomId,
		UserId:     s.user.Id,
		SenderName: senderName,
		SenderRole: senderRole,
		Text:       req.Text,
		FileURL:    asset.SecureURL,
		FileType:   req.MimeType,
		FileName:   req.FileName,
		FileSize:   req.Size,
	})
	if err != nil {
		s.log.Printf("create attachment message: %v", err)
		s.stats.Incr(statUploadsFailed)
		s.pushUpload(&UploadStatus{Id: uploadId, Error: "failed to save message"})
		return
	}

	s.stats.Incr(statMessagesSent)
	s.pushUpload(&UploadStatus{Id: uploadId, Progress: 100})
}

func (s *Session) pushUpload(status *UploadStatus) {
	s.queueMessage(&ServerMessage{
		BaseMessage: BaseMessage{Timestamp: Now()},
		Upload:      status,
	})
}
