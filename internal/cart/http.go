package cart

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"GoMarketplace/pkg/kit"
)

type Server struct {
	Log *zap.Logger
}

type cartResp struct {
	Products Cart `json:"products"`
	Lines    int  `json:"lines"`
	Units    int  `json:"units"`
}

func (s *Server) GetHandler() http.HandlerFunc       { return s.get }
func (s *Server) AddHandler() http.HandlerFunc       { return s.add }
func (s *Server) IncrementHandler() http.HandlerFunc { return s.increment }
func (s *Server) DecrementHandler() http.HandlerFunc { return s.decrement }

func (s *Server) get(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}
	writeCart(w, st)
}

func (s *Server) add(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}

	var p Product
	if err := kit.DecodeJSON(w, r, &p); err != nil {
		kit.WriteError(w, r, http.StatusBadRequest, "bad json", map[string]any{"cause": err.Error()})
		return
	}

	st.AddToCart(p)
	s.reply(w, r, st)
}

func (s *Server) increment(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}

	st.Increment(chi.URLParam(r, "id"))
	s.reply(w, r, st)
}

func (s *Server) decrement(w http.ResponseWriter, r *http.Request) {
	st, ok := s.store(w, r)
	if !ok {
		return
	}

	st.Decrement(chi.URLParam(r, "id"))
	s.reply(w, r, st)
}

func (s *Server) store(w http.ResponseWriter, r *http.Request) (*Store, bool) {
	st, err := FromContext(r.Context())
	if err != nil {
		s.logger().Error("cart handler outside provider scope", zap.Error(err), zap.String("path", r.URL.Path))
		kit.WriteError(w, r, http.StatusInternalServerError, "server error", nil)
		return nil, false
	}
	return st, true
}

// reply answers with the cart after a mutation. With ?sync=true the reply
// waits until the change is durable.
func (s *Server) reply(w http.ResponseWriter, r *http.Request, st *Store) {
	if wantSync(r) {
		if err := st.Flush(r.Context()); err != nil {
			if r.Context().Err() != nil {
				kit.WriteError(w, r, http.StatusGatewayTimeout, "timeout", nil)
				return
			}
			s.logger().Warn("cart flush failed", zap.Error(err))
			kit.WriteError(w, r, http.StatusServiceUnavailable, "cart not persisted", nil)
			return
		}
	}
	writeCart(w, st)
}

func writeCart(w http.ResponseWriter, st *Store) {
	items := st.Products()
	kit.WriteJSON(w, http.StatusOK, cartResp{
		Products: items,
		Lines:    len(items),
		Units:    items.Units(),
	})
}

func wantSync(r *http.Request) bool {
	v := strings.ToLower(r.URL.Query().Get("sync"))
	return v == "1" || v == "true"
}

func (s *Server) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
