package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/alanyoungcy/custodex/internal/crypto"
	"github.com/alanyoungcy/custodex/internal/domain"
	"github.com/alanyoungcy/custodex/internal/service"
)

const (
	// maxBodyBytes bounds a signed request body.
	maxBodyBytes = 1 << 20
	// maxRequestIDLen bounds the caller-chosen replay key.
	maxRequestIDLen = 128
)

// errBadRequest marks malformed input that never reached a program.
var errBadRequest = errors.New("bad request")

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Check string `json:"check,omitempty"`
}

// writeJSON marshals v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	switch domain.KindOf(err) {
	case domain.KindConfiguration:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindArithmetic:
		return http.StatusUnprocessableEntity
	case domain.KindCapacity:
		return http.StatusConflict
	case domain.KindConsistency:
		return http.StatusInternalServerError
	case domain.KindNotFound:
		return http.StatusNotFound
	}
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrBadSignature), errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

// writeError reports err with its mapped status. Server faults are logged
// and their detail withheld.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}
	var pe *domain.Error
	if errors.As(err, &pe) {
		body.Kind = string(pe.Kind)
		body.Check = pe.Check
	}
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", err.Error()))
		if pe == nil {
			body.Error = op + " failed"
		}
	}
	writeJSON(w, status, body)
}

// requestMeta holds the envelope fields every signed payload must carry.
// Both sit under the signatures, so a captured envelope cannot be re-aimed
// at a new id or a later deadline.
type requestMeta struct {
	RequestID string `json:"request_id"`
	// ExpiresAt is a unix timestamp in seconds.
	ExpiresAt int64 `json:"expires_at"`
}

func (m requestMeta) validate() error {
	switch {
	case m.RequestID == "":
		return fmt.Errorf("request_id is required: %w", errBadRequest)
	case len(m.RequestID) > maxRequestIDLen:
		return fmt.Errorf("request_id exceeds %d bytes: %w", maxRequestIDLen, errBadRequest)
	case m.ExpiresAt <= 0:
		return fmt.Errorf("expires_at is required: %w", errBadRequest)
	}
	return nil
}

// decodeSigned reads a signed envelope, verifies it, and decodes the
// payload into v. The returned call carries the verified signer set and
// the signed replay key and deadline.
func decodeSigned(r *http.Request, v any) (service.Call, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return service.Call{}, fmt.Errorf("read body: %w", errBadRequest)
	}
	if len(body) > maxBodyBytes {
		return service.Call{}, fmt.Errorf("body exceeds %d bytes: %w", maxBodyBytes, errBadRequest)
	}
	var env crypto.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return service.Call{}, fmt.Errorf("envelope: %v: %w", err, errBadRequest)
	}
	signers, err := env.Verify()
	if err != nil {
		return service.Call{}, err
	}
	var meta requestMeta
	if err := json.Unmarshal(env.Payload, &meta); err != nil {
		return service.Call{}, fmt.Errorf("payload: %v: %w", err, errBadRequest)
	}
	if err := meta.validate(); err != nil {
		return service.Call{}, err
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return service.Call{}, fmt.Errorf("payload: %v: %w", err, errBadRequest)
	}
	return service.Call{
		RequestID: meta.RequestID,
		ExpiresAt: time.Unix(meta.ExpiresAt, 0),
		Signers:   signers,
	}, nil
}

// pathAddress parses an address path parameter.
func pathAddress(r *http.Request, name string) (domain.Address, error) {
	a, err := domain.ParseAddress(r.PathValue(name))
	if err != nil {
		return domain.Address{}, fmt.Errorf("%s: %v: %w", name, err, errBadRequest)
	}
	return a, nil
}

// parseListOpts reads limit (default 50, max 500) and offset.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()
	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}
