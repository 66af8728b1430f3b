package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/digkill/TGMediaGen/internal/initdata"
	"github.com/digkill/TGMediaGen/internal/ledger"
	"github.com/digkill/TGMediaGen/internal/models"
	"github.com/digkill/TGMediaGen/internal/orchestrator"
	"github.com/digkill/TGMediaGen/internal/payments"
	"github.com/digkill/TGMediaGen/internal/provider"
)

const maxBodyBytes = 32 << 20

// authenticate verifies the init payload, upserts the caller and runs
// first-touch referral attribution when a start param is present.
func (s *Server) authenticate(ctx context.Context, raw string) (*models.User, error) {
	data, err := initdata.Verify(s.botToken, raw)
	if err != nil {
		return nil, err
	}
	user, _, err := s.users.EnsureUser(ctx, data.User.ID, data.User.Username, data.User.FirstName)
	if err != nil {
		return nil, err
	}
	if data.StartParam != "" {
		s.referrals.Attribute(ctx, user.ID, data.StartParam)
	}
	return user, nil
}

// authFromJSON handles the common POST shape {initData, ...}: it decodes the
// body into dst (which must carry an initData field via initDataCarrier) and
// authenticates. On failure it writes the error response and returns nil.
type initDataCarrier interface {
	initData() string
}

type authedRequest struct {
	InitData string `json:"initData"`
}

func (r authedRequest) initData() string { return r.InitData }

func decodeAndAuth[T initDataCarrier](s *Server, w http.ResponseWriter, r *http.Request, dst *T) *models.User {
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return nil
	}
	user, err := s.authenticate(r.Context(), (*dst).initData())
	if err != nil {
		s.writeAuthError(w, err)
		return nil
	}
	return user
}

func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, initdata.ErrInvalid) {
		writeError(w, http.StatusUnauthorized, tokenUnauthorized)
		return
	}
	s.log.Error("authenticate", "err", err)
	writeError(w, http.StatusInternalServerError, tokenInternal)
}

type userView struct {
	ID         int64  `json:"id"`
	TelegramID int64  `json:"telegram_id"`
	Username   string `json:"username"`
	FirstName  string `json:"first_name"`
	Credits    string `json:"credits"`
	PlanSKU    string `json:"plan_sku,omitempty"`
}

func toUserView(u *models.User) userView {
	return userView{
		ID:         u.ID,
		TelegramID: u.TelegramID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		Credits:    money(u.Credits),
		PlanSKU:    u.PlanSKU,
	}
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	var req authedRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	writeOK(w, map[string]any{
		"user":  toUserView(user),
		"packs": payments.Packs(),
		"plans": payments.Plans(),
	})
}

func (s *Server) handleAvatar(w http.ResponseWriter, r *http.Request) {
	var req authedRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	url, err := s.avatars.AvatarURL(r.Context(), user.TelegramID)
	if err != nil {
		s.log.Error("resolve avatar", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	writeOK(w, map[string]any{"url": url})
}

type generateRequest struct {
	InitData       string `json:"initData"`
	IdempotencyKey string `json:"idempotency_key"`
	provider.Params
}

func (r generateRequest) initData() string { return r.InitData }

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	tool := chi.URLParam(r, "tool")

	var req generateRequest
	var user *models.User
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		// The caller and tool are checked before any uploaded bytes are
		// staged; a rejected request leaves nothing behind.
		if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
			writeError(w, http.StatusBadRequest, tokenBadRequest)
			return
		}
		var err error
		user, err = s.authenticate(r.Context(), r.FormValue("initData"))
		if err != nil {
			s.writeAuthError(w, err)
			return
		}
		if _, ok := s.tools.Lookup(tool); !ok {
			writeError(w, http.StatusNotFound, tokenUnknownTool)
			return
		}
		req, err = s.parseGenerateMultipart(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, tokenBadRequest)
			return
		}
	} else {
		user = decodeAndAuth(s, w, r, &req)
		if user == nil {
			return
		}
	}

	job, err := s.submitter.Submit(r.Context(), user, tool, req.Params, req.IdempotencyKey)
	if err != nil {
		s.writeGenerateError(w, err)
		return
	}
	writeOK(w, map[string]any{
		"sent_to_telegram": true,
		"cost":             money(job.Cost),
		"job_id":           job.ID,
	})
}

func (s *Server) writeGenerateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, orchestrator.ErrUnknownTool):
		writeError(w, http.StatusNotFound, tokenUnknownTool)
	case errors.Is(err, provider.ErrBadParams):
		writeError(w, http.StatusBadRequest, tokenBadRequest)
	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusPaymentRequired, tokenNoCredits)
	case errors.Is(err, orchestrator.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, tokenShuttingDown)
	default:
		s.log.Error("submit job", "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
	}
}

// parseGenerateMultipart reads form fields into generation params and stores
// any uploaded media so the provider can fetch it by URL. The form must
// already be parsed and the caller verified.
func (s *Server) parseGenerateMultipart(r *http.Request) (generateRequest, error) {
	req := generateRequest{
		InitData:       r.FormValue("initData"),
		IdempotencyKey: r.FormValue("idempotency_key"),
	}
	req.Prompt = r.FormValue("prompt")
	req.Quality = r.FormValue("quality")
	req.AspectRatio = r.FormValue("aspect_ratio")
	req.Voice = r.FormValue("voice")
	req.ImageURL = r.FormValue("image_url")
	req.VideoURL = r.FormValue("video_url")
	if v := r.FormValue("image_count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return generateRequest{}, err
		}
		req.ImageCount = n
	}
	if v := r.FormValue("duration"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return generateRequest{}, err
		}
		req.DurationSec = n
	}
	req.Pro = r.FormValue("pro") == "true"
	req.Premium = r.FormValue("premium") == "true"

	if url, err := s.saveUpload(r, "image", models.KindImage); err != nil {
		return generateRequest{}, err
	} else if url != "" {
		req.ImageURL = url
	}
	if url, err := s.saveUpload(r, "video", models.KindVideo); err != nil {
		return generateRequest{}, err
	} else if url != "" {
		req.VideoURL = url
	}
	return req, nil
}

func (s *Server) saveUpload(r *http.Request, field string, kind models.MediaKind) (string, error) {
	file, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxBodyBytes))
	if err != nil {
		return "", err
	}
	_, publicURL, err := s.artifacts.Write(r.Context(), kind, data)
	if err != nil {
		return "", err
	}
	return publicURL, nil
}

// handleLastResult returns the most recent artifact for (caller, tool) so the
// app can re-show it without spending credits.
func (s *Server) handleLastResult(w http.ResponseWriter, r *http.Request) {
	var req authedRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	tool := chi.URLParam(r, "tool")
	if _, ok := s.tools.Lookup(tool); !ok {
		writeError(w, http.StatusNotFound, tokenUnknownTool)
		return
	}
	last, err := s.jobs.GetLastResult(r.Context(), user.ID, tool)
	if err != nil {
		s.log.Error("get last result", "user_id", user.ID, "tool", tool, "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	if last == nil {
		writeError(w, http.StatusNotFound, tokenNotFound)
		return
	}
	writeOK(w, map[string]any{"url": last.ResultURL, "updated_at": last.UpdatedAt})
}

type jobView struct {
	ID        string    `json:"id"`
	Tool      string    `json:"tool"`
	Status    string    `json:"status"`
	Cost      string    `json:"cost"`
	ResultURL string    `json:"result_url,omitempty"`
	ErrorCode string    `json:"error_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func toJobView(j *models.GenerationJob) jobView {
	return jobView{
		ID:        j.ID,
		Tool:      j.Tool,
		Status:    string(j.Status),
		Cost:      money(j.Cost),
		ResultURL: j.ResultURL,
		ErrorCode: j.ErrorCode,
		CreatedAt: j.CreatedAt,
	}
}

type jobsListRequest struct {
	authedRequest
	Limit int `json:"limit"`
}

func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	var req jobsListRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	jobs, err := s.jobs.ListRecent(r.Context(), user.ID, req.Limit)
	if err != nil {
		s.log.Error("list jobs", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	views := make([]jobView, 0, len(jobs))
	for i := range jobs {
		views = append(views, toJobView(&jobs[i]))
	}
	writeOK(w, map[string]any{"jobs": views})
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r.Context(), r.URL.Query().Get("initData"))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	job, err := s.jobs.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.log.Error("get job", "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, tokenNotFound)
		return
	}
	if job.UserID != user.ID {
		writeError(w, http.StatusForbidden, tokenForbidden)
		return
	}
	writeOK(w, map[string]any{"job": toJobView(job)})
}

func (s *Server) handleRefCreate(w http.ResponseWriter, r *http.Request) {
	var req authedRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	link, err := s.referrals.GetOrCreateLink(r.Context(), user.ID)
	if err != nil {
		s.log.Error("create referral link", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	writeOK(w, map[string]any{"ref": link})
}

func (s *Server) handleRefList(w http.ResponseWriter, r *http.Request) {
	var req authedRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	items, err := s.referrals.List(r.Context(), user.ID)
	if err != nil {
		s.log.Error("list referrals", "user_id", user.ID, "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	writeOK(w, map[string]any{"items": items})
}

type checkoutRequest struct {
	authedRequest
	SKU string `json:"sku"`
}

func (s *Server) handleStripeCheckout(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	url, err := s.payments.CreateStripeCheckout(r.Context(), user.ID, req.SKU)
	if err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *Server) handleCryptoInvoice(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	user := decodeAndAuth(s, w, r, &req)
	if user == nil {
		return
	}
	url, err := s.payments.CreateCryptoInvoice(r.Context(), user.ID, req.SKU)
	if err != nil {
		s.writeCheckoutError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"url": url})
}

func (s *Server) writeCheckoutError(w http.ResponseWriter, err error) {
	if errors.Is(err, payments.ErrUnknownSKU) {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return
	}
	s.log.Error("create checkout", "err", err)
	writeError(w, http.StatusInternalServerError, tokenInternal)
}

func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return
	}
	if err := s.payments.HandleStripeWebhook(r.Context(), r.Header.Get("Stripe-Signature"), body); err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			writeError(w, http.StatusBadRequest, tokenBadRequest)
			return
		}
		s.log.Error("stripe webhook", "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	writeOK(w, nil)
}

func (s *Server) handleCryptoWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return
	}
	if err := s.payments.HandleCryptoWebhook(r.Context(), r.Header.Get("X-Signature"), body); err != nil {
		if errors.Is(err, payments.ErrBadSignature) {
			writeError(w, http.StatusBadRequest, tokenBadRequest)
			return
		}
		s.log.Error("crypto webhook", "err", err)
		writeError(w, http.StatusInternalServerError, tokenInternal)
		return
	}
	writeOK(w, nil)
}

// handleProviderCallback receives push-style results and parks them for the
// waiting poll loop.
func (s *Server) handleProviderCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return
	}
	var envelope struct {
		Data struct {
			TaskID  string `json:"taskId"`
			TaskID2 string `json:"task_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return
	}
	taskID := envelope.Data.TaskID
	if taskID == "" {
		taskID = envelope.Data.TaskID2
	}
	if taskID == "" {
		writeError(w, http.StatusBadRequest, tokenBadRequest)
		return
	}
	s.callbacks.Put(taskID, body)
	writeOK(w, nil)
}
