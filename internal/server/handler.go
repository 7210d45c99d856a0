package server

import (
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"

	"github.com/ginjaninja78/fatturapa-extractor/internal/batch"
	"github.com/ginjaninja78/fatturapa-extractor/internal/loader"
	"github.com/ginjaninja78/fatturapa-extractor/internal/logging"
	"github.com/ginjaninja78/fatturapa-extractor/internal/serializer"
	"github.com/ginjaninja78/fatturapa-extractor/internal/types"
)

// UploadField is the multipart field holding the documents.
const UploadField = "files"

// Response headers on downloads.
const (
	BatchIDHeader     = "X-Batch-ID"
	FailedItemsHeader = "X-Failed-Items"
)

// Summary counts the entries of a batch.
type Summary struct {
	Items      int   `json:"items"`
	Successes  int   `json:"successes"`
	Failures   int   `json:"failures"`
	DurationMS int64 `json:"duration_ms"`
}

// ExtractResponse is the body of POST /api/v1/extract.
type ExtractResponse struct {
	BatchID string                  `json:"batch_id"`
	Summary Summary                 `json:"summary"`
	Records any                     `json:"records"`
	Errors  []serializer.ErrorEntry `json:"errors"`
}

func newExtractResponse(result *types.BatchResult) ExtractResponse {
	return ExtractResponse{
		BatchID: result.ID,
		Summary: Summary{
			Items:      result.Len(),
			Successes:  result.Successes(),
			Failures:   result.Len() - result.Successes(),
			DurationMS: result.Duration().Milliseconds(),
		},
		Records: serializer.RecordsJSON(result.Records()),
		Errors:  serializer.ErrorReport(result),
	}
}

// =============================================================================
// HANDLERS
// =============================================================================

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) index(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", indexPage)
}

func (s *Server) extract(c *gin.Context) {
	result, ok := s.runUpload(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, newExtractResponse(result))
}

func (s *Server) download(c *gin.Context) {
	format, err := serializer.ParseFormat(c.DefaultQuery("format", s.cfg.Output.Format))
	if err != nil {
		respondBadRequest(c, err.Error())
		return
	}

	result, ok := s.runUpload(c)
	if !ok {
		return
	}
	if result.Successes() == 0 {
		c.JSON(http.StatusUnprocessableEntity, newExtractResponse(result))
		return
	}

	data, err := serializer.Serialize(result.Records(), format, serializer.Options{
		Single: s.cfg.Output.Single,
		Indent: s.cfg.Output.Indent,
	})
	if err != nil {
		_ = c.Error(err)
		respondInternalServerError(c, ErrSerialize)
		return
	}

	name := fmt.Sprintf("fatture-%s.%s", result.ID, format.Extension())
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Header(BatchIDHeader, result.ID)
	c.Header(FailedItemsHeader, strconv.Itoa(result.Len()-result.Successes()))
	c.Data(http.StatusOK, format.ContentType(), data)
}

// runUpload reads the uploaded documents and runs a batch over them. It
// writes the error response itself and returns false when there is
// nothing more to do.
func (s *Server) runUpload(c *gin.Context) (*types.BatchResult, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Server.MaxUploadBytes)

	form, err := c.MultipartForm()
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondWithError(c, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("%s: limit is %d bytes", ErrUploadTooLarge, s.cfg.Server.MaxUploadBytes))
			return nil, false
		}
		respondBadRequest(c, ErrInvalidUpload+": "+err.Error())
		return nil, false
	}

	uploads := form.File[UploadField]
	if len(uploads) == 0 {
		respondBadRequest(c, fmt.Sprintf("no %q provided", UploadField))
		return nil, false
	}

	sources := make([]loader.Source, 0, len(uploads))
	for _, fh := range uploads {
		f, err := fh.Open()
		if err != nil {
			respondBadRequest(c, ErrInvalidUpload+": "+err.Error())
			return nil, false
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			respondBadRequest(c, ErrInvalidUpload+": "+err.Error())
			return nil, false
		}
		sources = append(sources, loader.BytesSource(filepath.Base(fh.Filename), data))
	}

	opts := s.pipeline
	opts.Logger = s.log.With("request_id", c.GetString("request_id"))
	result, err := batch.Run(c.Request.Context(), sources, opts)
	switch {
	case errors.Is(err, batch.ErrNoInput):
		c.JSON(http.StatusUnprocessableEntity, newExtractResponse(result))
		return nil, false
	case err != nil:
		s.log.Warnw("Batch interrupted", logging.FieldBatchID, result.ID, logging.FieldError, err)
		respondWithError(c, http.StatusServiceUnavailable, ErrCancelled)
		return nil, false
	}
	return result, true
}
