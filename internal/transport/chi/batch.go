package chi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/oapi-codegen/runtime"

	"github.com/kailas-cloud/docextract/internal/domain"
	dombatch "github.com/kailas-cloud/docextract/internal/domain/batch"
	"github.com/kailas-cloud/docextract/internal/domain/failure"
	domusage "github.com/kailas-cloud/docextract/internal/domain/usage"
	"github.com/kailas-cloud/docextract/internal/usecase/batch"
)

const multipartMemory = 32 << 20

type batchResultItem struct {
	Index  int                 `json:"index"`
	ID     string              `json:"id"`
	Status dombatch.ItemStatus `json:"status"`
	Result json.RawMessage     `json:"result,omitempty"`
	Error  any                 `json:"error,omitempty"`
}

type batchResponse struct {
	Items     []batchResultItem `json:"items"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Skipped   int               `json:"skipped"`
}

// BatchExtract handles POST /v1/documents/batch. Every multipart "file" part is one document.
func (s *Server) BatchExtract(w http.ResponseWriter, r *http.Request) {
	params, err := bindExtractParams(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}
	base, err := baseInput(params)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "multipart/form-data" {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "batch requires multipart/form-data")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload*batch.MaxBatchSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeError(w, http.StatusRequestEntityTooLarge, CodeTooLarge,
				fmt.Sprintf("batch body exceeds %d bytes", mbe.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid multipart body: "+err.Error())
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File[multipartField]
	if len(headers) == 0 || len(headers) > batch.MaxBatchSize {
		writeError(w, http.StatusBadRequest, CodeBadRequest,
			fmt.Sprintf("file count must be between 1 and %d", batch.MaxBatchSize))
		return
	}

	items := make([]batch.Item, 0, len(headers))
	for i, h := range headers {
		data, err := s.readPart(h)
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
			return
		}
		in := base
		in.Data, in.Filename = data, h.Filename
		id := h.Filename
		if id == "" {
			id = fmt.Sprintf("item-%d", i)
		}
		items = append(items, batch.Item{ID: id, Input: in})
	}

	ctx, usage := domain.NewContextWithVisionUsage(r.Context())
	results := s.batch.Extract(ctx, items)
	setVisionHeaders(w, usage)

	resp := batchResponse{Items: make([]batchResultItem, len(results))}
	for i, res := range results {
		resp.Items[i] = batchResultItem{Index: i, ID: res.ID(), Status: res.Status()}
		switch res.Status() {
		case dombatch.StatusOK:
			resp.Items[i].Result = res.Body()
			resp.Succeeded++
		case dombatch.StatusSkipped:
			resp.Items[i].Error = batchError(res.Err())
			resp.Skipped++
		default:
			resp.Items[i].Error = batchError(res.Err())
			resp.Failed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) readPart(h *multipart.FileHeader) ([]byte, error) {
	f, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("open part %q: %w", h.Filename, err)
	}
	defer func() { _ = f.Close() }()
	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		return nil, fmt.Errorf("read part %q: %w", h.Filename, err)
	}
	return data, nil
}

func batchError(err error) any {
	var f *failure.Failure
	if errors.As(err, &f) {
		return f
	}
	if err == nil {
		return nil
	}
	return ErrorResponse{Code: CodeInternal, Message: err.Error()}
}

type usageResponse struct {
	Period        domusage.Period `json:"period"`
	Model         string          `json:"model,omitempty"`
	TokensUsed    int64           `json:"tokens_used"`
	PeriodStartAt time.Time       `json:"period_start_at"`
	PeriodEndAt   time.Time       `json:"period_end_at"`
	Budget        budgetStatus    `json:"budget"`
}

type budgetStatus struct {
	TokensLimit     int64      `json:"tokens_limit"`
	TokensRemaining int64      `json:"tokens_remaining"`
	IsExhausted     bool       `json:"is_exhausted"`
	ResetsAt        *time.Time `json:"resets_at,omitempty"`
}

// UsageParams are the query parameters of GET /v1/usage.
type UsageParams struct {
	Period *string `json:"period,omitempty"`
}

// GetUsage handles GET /v1/usage.
func (s *Server) GetUsage(w http.ResponseWriter, r *http.Request) {
	var params UsageParams
	if err := runtime.BindQueryParameter("form", true, false, "period", r.URL.Query(), &params.Period); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "Invalid period: "+err.Error())
		return
	}
	var raw string
	if params.Period != nil {
		raw = *params.Period
	}
	period, err := domusage.ParsePeriod(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, err.Error())
		return
	}

	report := s.usage.GetReport(r.Context(), period)
	resp := usageResponse{
		Period:        report.Period(),
		Model:         report.Model(),
		TokensUsed:    report.TokensUsed(),
		PeriodStartAt: time.UnixMilli(report.PeriodStart()).UTC(),
		PeriodEndAt:   time.UnixMilli(report.PeriodEnd()).UTC(),
		Budget: budgetStatus{
			TokensLimit:     report.Budget().TokensLimit(),
			TokensRemaining: report.Budget().TokensRemaining(),
			IsExhausted:     report.Budget().IsExhausted(),
		},
	}
	if !report.Budget().IsUnlimited() {
		resetsAt := time.UnixMilli(report.Budget().ResetsAt()).UTC()
		resp.Budget.ResetsAt = &resetsAt
	}
	writeJSON(w, http.StatusOK, resp)
}
