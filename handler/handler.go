package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"messenger/internal/domain"
	"messenger/internal/usecase"
)

const correlationHeader = "X-Correlation-Id"

// Service is the messenger core consumed by the handler.
type Service interface {
	SendMessage(ctx context.Context, in usecase.SendInput) (domain.Message, error)
	RepairFanout(ctx context.Context, msg domain.Message) error
	ReconcileConversation(ctx context.Context, conversationID int64) error
	ResolveOrCreateConversation(ctx context.Context, a, b int64) (domain.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (domain.Conversation, error)
	ListConversationMessages(ctx context.Context, conversationID int64, p usecase.PageRequest) (usecase.MessagePage, error)
	ListMessagesBefore(ctx context.Context, conversationID int64, before time.Time, p usecase.PageRequest) (usecase.MessagePage, error)
	ListUserConversations(ctx context.Context, userID int64, p usecase.PageRequest) (usecase.ConversationPage, error)
}

// Handler adapts API Gateway proxy events to the messenger service.
type Handler struct {
	svc Service
	log *slog.Logger
}

func NewHandler(svc Service) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("handler: service must not be nil")
	}
	return &Handler{svc: svc, log: slog.Default()}, nil
}

type route struct {
	method string
	parts  []string
}

// Handle routes:
//
//	POST /messages
//	POST /conversations
//	GET  /conversations/{id}
//	POST /conversations/{id}/reconcile
//	GET  /conversations/{id}/messages
//	GET  /conversations/{id}/messages/before?before=<ISO-8601>
//	GET  /users/{id}/conversations
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	corrID := headerValue(req.Headers, correlationHeader)
	if corrID == "" {
		corrID = uuid.NewString()
	}
	log := h.log.With("correlation_id", corrID, "method", req.HTTPMethod, "path", req.Path)

	r := route{method: req.HTTPMethod, parts: splitPath(req.Path)}
	status, body := h.dispatch(ctx, r, req)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "status", status)
	} else {
		log.Info("request handled", "status", status)
	}
	return respond(status, body, corrID), nil
}

func (h *Handler) dispatch(ctx context.Context, r route, req events.APIGatewayProxyRequest) (int, any) {
	p := r.parts
	switch {
	case r.method == http.MethodPost && len(p) == 1 && p[0] == "messages":
		return h.sendMessage(ctx, req.Body)
	case r.method == http.MethodPost && len(p) == 1 && p[0] == "conversations":
		return h.createConversation(ctx, req.Body)
	case r.method == http.MethodGet && len(p) == 2 && p[0] == "conversations":
		return h.getConversation(ctx, p[1])
	case r.method == http.MethodPost && len(p) == 3 && p[0] == "conversations" && p[2] == "reconcile":
		return h.reconcileConversation(ctx, p[1])
	case r.method == http.MethodGet && len(p) == 3 && p[0] == "conversations" && p[2] == "messages":
		return h.listMessages(ctx, p[1], req.QueryStringParameters, false)
	case r.method == http.MethodGet && len(p) == 4 && p[0] == "conversations" && p[2] == "messages" && p[3] == "before":
		return h.listMessages(ctx, p[1], req.QueryStringParameters, true)
	case r.method == http.MethodGet && len(p) == 3 && p[0] == "users" && p[2] == "conversations":
		return h.listConversations(ctx, p[1], req.QueryStringParameters)
	}
	return http.StatusNotFound, errorResponse{Error: string(usecase.ErrorNotFound), Reason: "unknown_route"}
}

func (h *Handler) sendMessage(ctx context.Context, body string) (int, any) {
	var in sendMessageRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return invalidInput("invalid_body")
	}
	msg, err := h.svc.SendMessage(ctx, usecase.SendInput{
		SenderID:       in.SenderID,
		ReceiverID:     in.ReceiverID,
		Content:        in.Content,
		ConversationID: in.ConversationID,
	})
	if err != nil && msg.ID != "" {
		// The message is stored; give the summary views one more chance.
		rerr := h.svc.RepairFanout(ctx, msg)
		if rerr != nil {
			// A retry would store a duplicate, so hand back the stored
			// message and leave the views to the reconcile route.
			h.log.Warn("fanout incomplete", "message_id", msg.ID, "conversation_id", msg.ConversationID, "error", rerr)
			return http.StatusAccepted, acceptedMessageResponse{
				messageResponse: toMessageResponse(msg),
				Reason:          "fanout_incomplete",
			}
		}
		err = nil
	}
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, toMessageResponse(msg)
}

func (h *Handler) createConversation(ctx context.Context, body string) (int, any) {
	var in createConversationRequest
	if err := json.Unmarshal([]byte(body), &in); err != nil {
		return invalidInput("invalid_body")
	}
	if len(in.ParticipantIDs) != 2 {
		return invalidInput("two_participants_required")
	}
	conv, err := h.svc.ResolveOrCreateConversation(ctx, in.ParticipantIDs[0], in.ParticipantIDs[1])
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, toConversationResponse(conv)
}

func (h *Handler) getConversation(ctx context.Context, rawID string) (int, any) {
	id, ok := parseID(rawID)
	if !ok {
		return invalidInput("invalid_conversation_id")
	}
	conv, err := h.svc.GetConversation(ctx, id)
	if err != nil {
		return errorStatus(err)
	}
	return http.StatusOK, toConversationResponse(conv)
}

// reconcileConversation rebuilds the summary views of a conversation from its
// message log and returns the refreshed metadata.
func (h *Handler) reconcileConversation(ctx context.Context, rawID string) (int, any) {
	id, ok := parseID(rawID)
	if !ok {
		return invalidInput("invalid_conversation_id")
	}
	if err := h.svc.ReconcileConversation(ctx, id); err != nil {
		return errorStatus(err)
	}
	return h.getConversation(ctx, rawID)
}

func (h *Handler) listMessages(ctx context.Context, rawID string, q map[string]string, before bool) (int, any) {
	id, ok := parseID(rawID)
	if !ok {
		return invalidInput("invalid_conversation_id")
	}
	page, ok := parsePage(q)
	if !ok {
		return invalidInput("invalid_limit")
	}

	var (
		out usecase.MessagePage
		err error
	)
	if before {
		ts, perr := parseTimestamp(q["before"])
		if perr != nil {
			return invalidInput("invalid_before_timestamp")
		}
		out, err = h.svc.ListMessagesBefore(ctx, id, ts, page)
	} else {
		out, err = h.svc.ListConversationMessages(ctx, id, page)
	}
	if err != nil {
		return errorStatus(err)
	}

	resp := paginatedMessagesResponse{
		Messages:   make([]messageResponse, 0, len(out.Messages)),
		HasMore:    out.HasMore,
		NextCursor: out.NextCursor,
	}
	for _, m := range out.Messages {
		resp.Messages = append(resp.Messages, toMessageResponse(m))
	}
	return http.StatusOK, resp
}

func (h *Handler) listConversations(ctx context.Context, rawID string, q map[string]string) (int, any) {
	id, ok := parseID(rawID)
	if !ok {
		return invalidInput("invalid_user_id")
	}
	page, ok := parsePage(q)
	if !ok {
		return invalidInput("invalid_limit")
	}
	out, err := h.svc.ListUserConversations(ctx, id, page)
	if err != nil {
		return errorStatus(err)
	}

	resp := paginatedConversationsResponse{
		Conversations: make([]conversationListItem, 0, len(out.Conversations)),
		HasMore:       out.HasMore,
		NextCursor:    out.NextCursor,
	}
	for _, s := range out.Conversations {
		resp.Conversations = append(resp.Conversations, conversationListItem{
			ConversationID: s.ConversationID,
			OtherUserID:    s.OtherUserID,
			LastUpdated:    formatTimestamp(s.LastMessageAt),
			LastMessage:    s.LastMessageContent,
		})
	}
	return http.StatusOK, resp
}

func errorStatus(err error) (int, any) {
	code := usecase.CodeOf(err)
	var reason string
	var ue *usecase.Error
	if errors.As(err, &ue) {
		reason = ue.Reason
	}
	body := errorResponse{Error: string(code), Reason: reason, Retryable: usecase.IsRetryable(err)}

	switch code {
	case usecase.ErrorInvalidInput:
		return http.StatusBadRequest, body
	case usecase.ErrorNotFound:
		return http.StatusNotFound, body
	case usecase.ErrorConflict:
		return http.StatusConflict, body
	case usecase.ErrorTransientStorage:
		return http.StatusServiceUnavailable, body
	default:
		return http.StatusInternalServerError, errorResponse{Error: string(usecase.ErrorInternal), Reason: reason}
	}
}

func invalidInput(reason string) (int, any) {
	return http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput), Reason: reason}
}

func respond(status int, body any, corrID string) events.APIGatewayProxyResponse {
	b, err := json.Marshal(body)
	if err != nil {
		status = http.StatusInternalServerError
		b = []byte(`{"error":"INTERNAL_ERROR"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers: map[string]string{
			"Content-Type":    "application/json",
			correlationHeader: corrID,
		},
		Body: string(b),
	}
}

func headerValue(headers map[string]string, name string) string {
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func parsePage(q map[string]string) (usecase.PageRequest, bool) {
	p := usecase.PageRequest{Cursor: q["cursor"]}
	if raw := strings.TrimSpace(q["limit"]); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return usecase.PageRequest{}, false
		}
		p.Limit = n
	}
	return p, true
}
