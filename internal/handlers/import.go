package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/xelth-com/arkikgo/internal/apperr"
	"github.com/xelth-com/arkikgo/internal/arkik"
	"github.com/xelth-com/arkikgo/internal/arkikfile"
	"github.com/xelth-com/arkikgo/internal/websocket"
)

// sessionResponse is returned when a session is opened or read
type sessionResponse struct {
	Summary  arkik.Summary      `json:"summary"`
	Metadata arkikfile.Metadata `json:"metadata"`
	Blockers []arkik.Blocker    `json:"blockers"`
	// PreviousImport is set when the same file was imported before
	PreviousImport string `json:"previous_import,omitempty"`
}

type recordView struct {
	arkik.StagingRecord
	ValidationStatus arkik.ValidationStatus `json:"validation_status"`
	Blocked          bool                   `json:"blocked"`
	Duplicate        bool                   `json:"duplicate"`
	Decision         *arkik.DecisionState   `json:"status_decision,omitempty"`
}

type duplicateView struct {
	arkik.DuplicateInfo
	Resolution *arkik.DuplicateResolution `json:"resolution,omitempty"`
}

// openSession stages an upload (multipart field "file") or JSON rows
func (r *Router) openSession(w http.ResponseWriter, req *http.Request) {
	if strings.HasPrefix(req.Header.Get("Content-Type"), "multipart/form-data") {
		if err := req.ParseMultipartForm(arkikfile.MaxFileSize); err != nil {
			r.respondError(w, req, apperr.BadRequest("invalid multipart upload").Wrap(err))
			return
		}
		file, header, err := req.FormFile("file")
		if err != nil {
			r.respondError(w, req, apperr.BadRequest("missing file field").Wrap(err))
			return
		}
		defer file.Close()

		opened, err := r.imports.OpenFile(req.Context(), req.FormValue("plant_id"), header.Filename, file)
		if err != nil {
			r.respondError(w, req, err)
			return
		}
		resp := sessionResponse{
			Summary:  arkik.Summarize(opened.Session),
			Metadata: opened.Metadata,
			Blockers: opened.Session.Blockers(),
		}
		if opened.Previous != nil {
			resp.PreviousImport = opened.Previous.ID
		}
		respondJSON(w, http.StatusCreated, resp)
		return
	}

	var body openRowsRequest
	if err := decodeAndValidate(w, req, &body); err != nil {
		r.respondError(w, req, err)
		return
	}
	name := body.FileName
	if name == "" {
		name = "api"
	}
	opened, err := r.imports.OpenRows(req.Context(), body.PlantID, name, body.toRawRows())
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, sessionResponse{
		Summary:  arkik.Summarize(opened.Session),
		Metadata: opened.Metadata,
		Blockers: opened.Session.Blockers(),
	})
}

func (r *Router) getSession(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	sum, err := r.imports.Summary(id)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	meta, _ := r.imports.Metadata(id)
	resp := sessionResponse{Summary: sum, Metadata: meta, Blockers: []arkik.Blocker{}}
	if s, err := r.imports.Session(id); err == nil {
		resp.Blockers = s.Blockers()
	}
	respondJSON(w, http.StatusOK, resp)
}

func (r *Router) abandonSession(w http.ResponseWriter, req *http.Request) {
	if err := r.imports.Abandon(req.Context(), mux.Vars(req)["id"]); err != nil {
		r.respondError(w, req, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) refreshSession(w http.ResponseWriter, req *http.Request) {
	s, err := r.imports.Refresh(req.Context(), mux.Vars(req)["id"])
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, sessionResponse{Summary: arkik.Summarize(s), Blockers: s.Blockers()})
}

// listRecords returns the staged records; ?status=valid|warning|error filters them
func (r *Router) listRecords(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	filter := arkik.ValidationStatus(req.URL.Query().Get("status"))
	batch := s.Batch()
	out := make([]recordView, 0, len(batch.Records))
	for _, rec := range batch.Records {
		status := rec.ValidationStatus()
		if filter != "" && status != filter {
			continue
		}
		_, dup := batch.Duplicates[rec.Number]
		view := recordView{StagingRecord: rec, ValidationStatus: status, Blocked: rec.Blocked(), Duplicate: dup && rec.RepeatOf == 0}
		if d, ok := s.Decision(rec.Number); ok && rec.RepeatOf == 0 {
			view.Decision = &d
		}
		out = append(out, view)
	}
	respondJSON(w, http.StatusOK, out)
}

func (r *Router) listDuplicates(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	batch := s.Batch()
	out := make([]duplicateView, 0, len(batch.Duplicates))
	for number, info := range batch.Duplicates {
		view := duplicateView{DuplicateInfo: info}
		if res, ok := s.Resolution(number); ok {
			view.Resolution = &res
		}
		out = append(out, view)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	respondJSON(w, http.StatusOK, out)
}

func (r *Router) setDuplicateStrategy(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	var body strategyRequest
	if err := decodeAndValidate(w, req, &body); err != nil {
		r.respondError(w, req, err)
		return
	}
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	if err := s.SetDuplicateStrategy(number, arkik.DuplicateStrategy(body.Strategy), body.Note); err != nil {
		r.respondError(w, req, err)
		return
	}
	res, _ := s.Resolution(number)
	respondJSON(w, http.StatusOK, res)
}

func (r *Router) listCandidates(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	if _, ok := s.Batch().Record(number); !ok {
		r.respondError(w, req, fmt.Errorf("%w: %s", arkik.ErrRecordNotFound, number))
		return
	}
	respondJSON(w, http.StatusOK, candidatesView(s, number))
}

// rematchRecord rescores one record against open orders; ?include_assigned=true
// also rescores a record that already has an order
func (r *Router) rematchRecord(w http.ResponseWriter, req *http.Request) {
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	includeAssigned, _ := strconv.ParseBool(req.URL.Query().Get("include_assigned"))
	s, err := r.imports.Rematch(req.Context(), mux.Vars(req)["id"], []string{number}, includeAssigned)
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, candidatesView(s, number))
}

func candidatesView(s *arkik.Session, number string) map[string]any {
	batch := s.Batch()
	resp := map[string]any{"candidates": nonNil(batch.Candidates[number])}
	if ref, ok := batch.OrderRefs[number]; ok {
		resp["order_ref"] = ref
	}
	if a, ok := s.Assignment(number); ok {
		resp["assignment"] = assignmentView(a)
	}
	return resp
}

func (r *Router) assignOrder(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	var body assignmentRequest
	if err := decodeAndValidate(w, req, &body); err != nil {
		r.respondError(w, req, err)
		return
	}
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	if err := s.AssignOrder(number, body.toAssignment()); err != nil {
		r.respondError(w, req, err)
		return
	}
	a, _ := s.Assignment(number)
	respondJSON(w, http.StatusOK, assignmentView(a))
}

func (r *Router) listTargets(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	batch := s.Batch()
	if _, ok := batch.Record(number); !ok {
		r.respondError(w, req, fmt.Errorf("%w: %s", arkik.ErrRecordNotFound, number))
		return
	}
	respondJSON(w, http.StatusOK, nonNil(batch.Targets[number]))
}

// retargetRecord searches reassignment targets for one record, abnormal or not
func (r *Router) retargetRecord(w http.ResponseWriter, req *http.Request) {
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	s, err := r.imports.Retarget(req.Context(), mux.Vars(req)["id"], []string{number})
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, nonNil(s.Batch().Targets[number]))
}

func (r *Router) decideStatus(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	var body statusDecisionRequest
	if err := decodeAndValidate(w, req, &body); err != nil {
		r.respondError(w, req, err)
		return
	}
	number := arkik.NormalizeNumber(mux.Vars(req)["number"])
	if err := s.DecideStatus(number, body.toDecision(), body.Notes); err != nil {
		r.respondError(w, req, err)
		return
	}
	d, _ := s.Decision(number)
	respondJSON(w, http.StatusOK, d)
}

func (r *Router) listBlockers(w http.ResponseWriter, req *http.Request) {
	s, ok := r.session(w, req)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, nonNil(s.Blockers()))
}

// commitSession writes the session; ?unattended=true or {"unattended":true} applies safe defaults
func (r *Router) commitSession(w http.ResponseWriter, req *http.Request) {
	var body commitRequest
	if req.ContentLength > 0 {
		if err := decodeAndValidate(w, req, &body); err != nil {
			r.respondError(w, req, err)
			return
		}
	}
	if v, err := strconv.ParseBool(req.URL.Query().Get("unattended")); err == nil {
		body.Unattended = v
	}

	report, err := r.imports.Commit(req.Context(), mux.Vars(req)["id"], body.Unattended)
	var blocked *arkik.BlockedError
	if errors.As(err, &blocked) {
		respondJSON(w, http.StatusConflict, map[string]any{
			"error":    toAppError(err),
			"blockers": blocked.Blockers,
		})
		return
	}
	if err != nil {
		r.respondError(w, req, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (r *Router) sessionReport(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	pdfBytes, err := r.imports.ReportPDF(id)
	if err != nil {
		r.respondError(w, req, err)
		return
	}

	// Set headers for download
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"arkik_%s.pdf\"", id))
	w.Header().Set("Content-Length", strconv.Itoa(len(pdfBytes)))
	w.Write(pdfBytes)
}

func (r *Router) watchSession(w http.ResponseWriter, req *http.Request) {
	id := mux.Vars(req)["id"]
	if _, err := r.imports.Metadata(id); err != nil {
		r.respondError(w, req, err)
		return
	}
	websocket.ServeWs(r.hub, id, w, req)
}

// session loads the open session named in the path or writes the error
func (r *Router) session(w http.ResponseWriter, req *http.Request) (*arkik.Session, bool) {
	s, err := r.imports.Session(mux.Vars(req)["id"])
	if err != nil {
		r.respondError(w, req, err)
		return nil, false
	}
	return s, true
}

func assignmentView(a arkik.OrderAssignment) map[string]any {
	switch v := a.(type) {
	case arkik.AssignExisting:
		return map[string]any{"mode": "existing", "order_id": v.OrderID, "order_number": v.OrderNumber}
	default:
		return map[string]any{"mode": "new"}
	}
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
