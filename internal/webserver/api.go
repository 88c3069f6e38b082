package webserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/gif"
	"io"
	"net/http"
	"strconv"

	"github.com/ichi0g0y/stimky-sticker/internal/cache"
	"github.com/ichi0g0y/stimky-sticker/internal/imageformat"
	"github.com/ichi0g0y/stimky-sticker/internal/label"
	"github.com/ichi0g0y/stimky-sticker/internal/localdb"
	"github.com/ichi0g0y/stimky-sticker/internal/output"
	"github.com/ichi0g0y/stimky-sticker/internal/printjob"
	"github.com/ichi0g0y/stimky-sticker/internal/quota"
	"github.com/ichi0g0y/stimky-sticker/internal/shared/logger"
	"go.uber.org/zap"
)

const lockedMessage = "The printer is currently locked for you. Please enter the password!"

type infoResponse struct {
	Success bool       `json:"success"`
	Info    quota.Info `json:"info"`
	Message string     `json:"message"`
}

func (s *Server) handleID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "requester id is required")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"id":       id,
		"admin":    s.isAdmin(r),
		"unlocked": s.svc.Unlocked(id),
		"message": fmt.Sprintf("Welcome to %s's sticker printer! Your id is %s, add it as admin_id to give yourself privileges.",
			s.opts.FursonaName, id),
	})
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "requester id is required")
		return
	}

	var req struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	info, err := s.svc.Unlock(id, req.Password)
	if err != nil {
		writeError(w, statusFor(err), lockedMessage)
		return
	}
	writeJSON(w, http.StatusOK, infoResponse{
		Success: true,
		Info:    info,
		Message: "Printer is unlocked! " + quota.Describe(info),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "requester id is required")
		return
	}

	info, err := s.svc.Info(id)
	if err != nil {
		writeError(w, statusFor(err), lockedMessage)
		return
	}
	// 台帳はプロセス内の枚数のみなので履歴から累計を取る
	total, err := localdb.CountPrinted(id)
	if err != nil {
		logger.Warn("Failed to count printed stickers", zap.String("requester", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"info":          info,
		"printed_total": total,
		"message":       quota.Describe(info),
	})
}

func (s *Server) handlePrint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "requester id is required")
		return
	}
	// ダウンロード前にロック状態を確認
	if !s.svc.Unlocked(id) {
		writeError(w, http.StatusForbidden, lockedMessage)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.opts.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.opts.MaxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "expected a multipart form with an image field")
		return
	}
	file, header, err := r.FormFile("image")
	if err != nil {
		writeError(w, http.StatusBadRequest, "image field is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read image")
		return
	}
	if isAnimatedGIF(data) {
		writeError(w, http.StatusUnsupportedMediaType, "Cannot print this. Try with a (static) sticker or a picture!")
		return
	}

	entry, cached, err := cache.StoreBytes(s.opts.CacheDir, data, header.Filename)
	if err != nil {
		logger.Error("Failed to cache upload", zap.String("requester", id), zap.Error(err))
		if errors.Is(err, cache.ErrEmptyImage) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to store image")
		return
	}
	logger.Debug("Print request received",
		zap.String("requester", id),
		zap.String("file", entry.FilePath),
		zap.Bool("cached", cached))

	job, err := s.svc.Submit(r.Context(), id, entry.FilePath)
	if !cached {
		s.trimCache()
	}
	if err != nil {
		code := statusFor(err)
		msg := err.Error()
		if code == http.StatusInternalServerError && !output.IsUserFacing(err) {
			msg = "internal error"
		}
		if errors.Is(err, printjob.ErrOutOfStickers) {
			if info, infoErr := s.svc.Info(id); infoErr == nil {
				msg = "Cannot print. " + quota.Describe(info)
			}
		}
		writeJSON(w, code, map[string]interface{}{
			"success": false,
			"error":   msg,
			"job":     jobOrNil(job),
		})
		return
	}

	info, _ := s.svc.Info(id)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"job":     job,
		"info":    info,
		"message": "Your sticker has printed! " + quota.Describe(info),
	})
}

func jobOrNil(job printjob.Job) interface{} {
	if job.ID == "" {
		return nil
	}
	return job
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	job, err := s.svc.Job(r.URL.Query().Get("id"))
	if err != nil || (job.RequesterID != requesterID(r) && !s.isAdmin(r)) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleJobs lists the recent jobs of this process, newest first.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "requester id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := id
	if s.isAdmin(r) && r.URL.Query().Get("all") == "true" {
		filter = ""
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"jobs":    s.svc.Recent(filter, limit),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := requesterID(r)
	if id == "" {
		writeError(w, http.StatusBadRequest, "requester id is required")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	filter := id
	if s.isAdmin(r) && r.URL.Query().Get("all") == "true" {
		filter = ""
	}

	history, err := localdb.GetPrintHistory(filter, limit)
	if err != nil {
		logger.Error("Failed to get print history", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to get print history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"history": history,
	})
}

type labelResponse struct {
	Name     string        `json:"name"`
	WidthPx  int           `json:"width_px"`
	HeightPx *int          `json:"height_px"`
	MaxPx    int           `json:"height_px_max"`
	Size     string        `json:"size"`
	Printers []output.Kind `json:"printers"`
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	labels := []labelResponse{}
	for _, l := range label.All() {
		resp := labelResponse{
			Name:     l.Name,
			WidthPx:  l.WidthPx,
			HeightPx: l.HeightPx,
			MaxPx:    l.HeightPxMax,
			Size:     l.SizeDescriptor(),
			Printers: []output.Kind{},
		}
		for _, k := range output.Kinds() {
			if label.Contains(output.SupportedLabels(k), l) {
				resp.Printers = append(resp.Printers, k)
			}
		}
		labels = append(labels, resp)
	}
	writeJSON(w, http.StatusOK, labels)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, printjob.ErrLocked), errors.Is(err, printjob.ErrWrongPassword):
		return http.StatusForbidden
	case errors.Is(err, printjob.ErrOutOfStickers):
		return http.StatusTooManyRequests
	case errors.Is(err, imageformat.ErrLabelTooLong):
		return http.StatusUnprocessableEntity
	case errors.Is(err, imageformat.ErrDecode):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, imageformat.ErrImageNotFound):
		return http.StatusBadRequest
	case errors.Is(err, output.ErrMediaError), errors.Is(err, output.ErrDeviceNotFound),
		errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	case errors.Is(err, output.ErrPrintFailed), errors.Is(err, output.ErrTransport):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func isAnimatedGIF(data []byte) bool {
	if http.DetectContentType(data) != "image/gif" {
		return false
	}
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return false
	}
	return len(g.Image) > 1
}
