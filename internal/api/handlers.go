package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Victorpalkin/gcp-po-processing-demo/internal/export"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/model"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/pipeline"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/review"
	"github.com/Victorpalkin/gcp-po-processing-demo/internal/store"
)

// exportLimit caps the rows of one spreadsheet export.
const exportLimit = 10000

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type reviewRequest struct {
	Version int64 `json:"version"`
	review.Edits
}

type sendRequest struct {
	Version int64 `json:"version"`
	Force   bool  `json:"force"`
	review.Edits
}

type recordsResponse struct {
	Records []model.Record `json:"records"`
	Total   int            `json:"total"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listProcessors(w http.ResponseWriter, r *http.Request) {
	procs, err := s.svc.Processors(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, procs)
}

func (s *Server) describeProcessor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	if id == "" {
		writeError(w, r, badRequest("processor id is required"))
		return
	}
	schema, err := s.svc.Processor(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (s *Server) deleteProcessor(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	if id == "" {
		writeError(w, r, badRequest("processor id is required"))
		return
	}
	if err := s.svc.DeleteProcessor(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) uploadDocuments(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, r, badRequest("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll() //nolint:errcheck

	processorID := r.FormValue("processor_id")
	if processorID == "" {
		writeError(w, r, badRequest("processor_id is required"))
		return
	}

	headers := r.MultipartForm.File["files[]"]
	headers = append(headers, r.MultipartForm.File["files"]...)
	if len(headers) == 0 {
		writeError(w, r, badRequest("no files uploaded"))
		return
	}

	docs := make([]pipeline.Document, 0, len(headers))
	for _, fh := range headers {
		data, err := readPart(fh)
		if err != nil {
			writeError(w, r, badRequest("read %s: %v", fh.Filename, err))
			return
		}
		docs = append(docs, pipeline.Document{Filename: fh.Filename, Data: data})
	}

	results := s.svc.ProcessBatch(r.Context(), processorID, r.FormValue("display_name"), docs)
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck
	return io.ReadAll(f)
}

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	recs, err := s.svc.Records(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	total, err := s.svc.Count(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []model.Record{}
	}
	writeJSON(w, http.StatusOK, recordsResponse{Records: recs, Total: total})
}

// parseFilter reads status, days, filename, limit and offset.
func parseFilter(q url.Values) (store.Filter, error) {
	var f store.Filter
	status, err := model.ParseStatus(q.Get("status"))
	if err != nil {
		return f, badRequest("%v", err)
	}
	f.Status = status
	f.FilenameContains = q.Get("filename")

	for _, p := range []struct {
		name string
		dst  *int
	}{
		{"days", &f.AgeDays},
		{"limit", &f.Limit},
		{"offset", &f.Offset},
	} {
		v := q.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, badRequest("%s must be a non-negative integer", p.name)
		}
		*p.dst = n
	}
	return f, nil
}

func (s *Server) getRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.svc.Record(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) getTable(w http.ResponseWriter, r *http.Request) {
	table, err := s.svc.Table(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, table)
}

func (s *Server) reviewRecord(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Version <= 0 {
		writeError(w, r, badRequest("version is required"))
		return
	}
	rec, err := s.svc.Review(r.Context(), chi.URLParam(r, "id"), req.Edits, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) sendRecord(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Version <= 0 {
		writeError(w, r, badRequest("version is required"))
		return
	}
	res, err := s.svc.Send(r.Context(), chi.URLParam(r, "id"), req.Edits, pipeline.SendOptions{
		Force:           req.Force,
		ExpectedVersion: req.Version,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid request body: %v", err)
	}
	return nil
}

func (s *Server) documentRedirect(w http.ResponseWriter, r *http.Request) {
	var ttl time.Duration
	if v := r.URL.Query().Get("ttl_mins"); v != "" {
		mins, err := strconv.Atoi(v)
		if err != nil || mins <= 0 {
			writeError(w, r, badRequest("ttl_mins must be a positive integer"))
			return
		}
		ttl = time.Duration(mins) * time.Minute
	}
	u, err := s.svc.DocumentURL(r.Context(), chi.URLParam(r, "id"), ttl)
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusTemporaryRedirect)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.svc.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) exportXLSX(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r.URL.Query())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if filter.Limit == 0 {
		filter.Limit = exportLimit
	}
	recs, err := s.svc.Records(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := export.WriteXLSX(&buf, recs); err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="records-%s.xlsx"`, time.Now().UTC().Format("20060102")))
	_, _ = w.Write(buf.Bytes())
}
