package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"expensedesk/internal/expenseapi"
	"expensedesk/internal/form"
	"expensedesk/internal/log"
)

// patchFormRequest carries header field edits and item field edits. Values
// are strings, numbers, booleans or null.
type patchFormRequest struct {
	Fields map[string]json.RawMessage `json:"fields"`
	Items  []itemPatch                `json:"items"`
}

type itemPatch struct {
	Index  int                        `json:"index"`
	Fields map[string]json.RawMessage `json:"fields"`
}

type submitResponse struct {
	Form    formResponse    `json:"form"`
	Expense expenseapi.JSON `json:"expense"`
}

func (s *Server) handleListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := s.forms.Drafts(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDraftResponses(drafts))
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	c := s.forms.Create(r.Context())
	writeFormCreated(w, c)
}

func (s *Server) handleEditForm(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.forms.OpenEdit(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeFormCreated(w, c)
}

func writeFormCreated(w http.ResponseWriter, c *form.Controller) {
	NewJSONResponse().
		Status(http.StatusCreated).
		Header("Location", "/api/forms/"+c.ID()).
		Body(newFormResponse(c.View())).
		Write(w)
}

func (s *Server) handleGetForm(w http.ResponseWriter, r *http.Request) {
	c, err := s.forms.Get(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newFormResponse(c.View()))
}

// handlePatchForm applies every edit in the request in field-name order.
// Values the form cannot parse are collected and returned together as 422
// while the remaining edits still apply; an unknown or read-only field
// aborts the request with 400.
func (s *Server) handlePatchForm(w http.ResponseWriter, r *http.Request) {
	var req patchFormRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var invalid form.ValidationErrors
	collect := func(err error) error {
		var verrs form.ValidationErrors
		if errors.As(err, &verrs) {
			invalid = append(invalid, verrs...)
			return nil
		}
		return err
	}

	c, err := s.forms.Edit(r.Context(), chi.URLParam(r, "formID"), func(c *form.Controller) error {
		for _, name := range sortedKeys(req.Fields) {
			value, err := fieldValue(req.Fields[name])
			if err != nil {
				return err
			}
			if err := collect(c.SetField(r.Context(), name, value)); err != nil {
				return err
			}
		}
		for _, item := range req.Items {
			for _, name := range sortedKeys(item.Fields) {
				value, err := fieldValue(item.Fields[name])
				if err != nil {
					return err
				}
				if err := collect(c.SetItemField(item.Index, name, value)); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err == nil && len(invalid) > 0 {
		err = invalid
	}
	if err != nil {
		writeErrorWithForm(w, r, err, c)
		return
	}
	writeJSON(w, http.StatusOK, newFormResponse(c.View()))
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *Server) handleAddItem(w http.ResponseWriter, r *http.Request) {
	c, err := s.forms.Edit(r.Context(), chi.URLParam(r, "formID"), func(c *form.Controller) error {
		_, err := c.AddItem()
		return err
	})
	if err != nil {
		writeErrorWithForm(w, r, err, c)
		return
	}
	writeJSON(w, http.StatusCreated, newFormResponse(c.View()))
}

// handleRemoveItem removes one item. Removing the only item is a no-op and
// still answers 200 with the unchanged form.
func (s *Server) handleRemoveItem(w http.ResponseWriter, r *http.Request) {
	index, err := pathIndex(r, "index")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.forms.Edit(r.Context(), chi.URLParam(r, "formID"), func(c *form.Controller) error {
		_, err := c.RemoveItem(index)
		return err
	})
	if err != nil {
		writeErrorWithForm(w, r, err, c)
		return
	}
	writeJSON(w, http.StatusOK, newFormResponse(c.View()))
}

// handleSubmitForm submits the form once. Validation failures answer 422
// without contacting the expense API; server rejections carry the server's
// message.
func (s *Server) handleSubmitForm(w http.ResponseWriter, r *http.Request) {
	c, saved, err := s.forms.Submit(r.Context(), chi.URLParam(r, "formID"))
	if err != nil {
		writeErrorWithForm(w, r, err, c)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Form submitted", log.NewFields().
		WithForm(c.ID(), string(c.Mode())).
		WithExpense(saved.ID, "").ToSlice()...)
	writeJSON(w, http.StatusOK, submitResponse{
		Form:    newFormResponse(c.View()),
		Expense: expenseapi.JSON(saved),
	})
}

func (s *Server) handleCloseForm(w http.ResponseWriter, r *http.Request) {
	if err := s.forms.Close(r.Context(), chi.URLParam(r, "formID")); err != nil {
		writeError(w, r, err)
		return
	}
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
