package http

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"expensedesk/internal/expenseapi"
	"expensedesk/internal/listview"
	"expensedesk/internal/log"
)

// handleListExpenses serves one page of a list view. The view's state is kept
// server-side under viewId: changing search or pageSize resets to page 1,
// while page, or nav=next|prev, only applies when neither changed.
func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	viewID := q.Get("view")
	prev, ok := s.views.Get(viewID)
	if viewID == "" || !ok {
		if viewID == "" {
			viewID = uuid.NewString()
		}
		prev = viewState{State: listview.NewState(), TotalPages: 1}
	}

	state := prev.State
	if q.Has("search") {
		state = state.WithSearch(sanitizeInput(q.Get("search")))
	}
	size, hasSize, err := queryInt(q, "pageSize")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if hasSize {
		if state, err = state.WithPageSize(size); err != nil {
			writeError(w, r, err)
			return
		}
	}

	page, hasPage, err := queryInt(q, "page")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if state.Search == prev.State.Search && state.PageSize == prev.State.PageSize {
		switch {
		case hasPage:
			state.Page = max(page, 1)
		case q.Get("nav") == "next":
			state = state.Next(prev.TotalPages)
		case q.Get("nav") == "prev":
			state = state.Prev(prev.TotalPages)
		}
	}

	result, err := s.expenses.List(r.Context(), state)
	if err != nil {
		writeError(w, r, err)
		return
	}
	// A page past the end, from a stale view or an explicit page number,
	// falls back to the last page.
	if result.State.Page > result.TotalPages {
		result, err = s.expenses.List(r.Context(), result.State.GoTo(result.TotalPages, result.TotalPages))
		if err != nil {
			writeError(w, r, err)
			return
		}
	}

	s.views.Set(viewID, viewState{State: result.State, TotalPages: result.TotalPages})
	writeJSON(w, http.StatusOK, newListResponse(viewID, result))
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	e, err := s.expenses.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expenseapi.JSON(e))
}

// handleDeleteExpense deletes only when the request carries confirm=true,
// standing in for the confirmation dialog.
func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if ok, _ := strconv.ParseBool(r.URL.Query().Get("confirm")); !ok {
		writeError(w, r, badRequest("Deletion must be confirmed with confirm=true"))
		return
	}
	if err := s.expenses.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	log.FromContext(r.Context()).InfoContext(r.Context(), "Expense deleted via API", log.FieldExpenseID, id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}
