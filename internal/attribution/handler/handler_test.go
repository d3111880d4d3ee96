package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"refledger/internal/attribution/models"
	"refledger/internal/attribution/service"
	attrstore "refledger/internal/attribution/store"
	linkmodels "refledger/internal/link/models"
	linkstore "refledger/internal/link/store"
	partnermodels "refledger/internal/partner/models"
	partnerstore "refledger/internal/partner/store"
	"refledger/pkg/domain"
	"refledger/pkg/requestcontext"
)

// AttributionHandlerSuite exercises HTTP concerns against a real service
// wired to in-memory stores.
type AttributionHandlerSuite struct {
	suite.Suite
	router http.Handler
	ctx    context.Context

	links *linkstore.InMemoryLinkStore
	link  *linkmodels.Link
}

func TestAttributionHandlerSuite(t *testing.T) {
	suite.Run(t, new(AttributionHandlerSuite))
}

func (s *AttributionHandlerSuite) SetupTest() {
	s.ctx = context.Background()
	conversions := attrstore.NewInMemoryConversionStore()
	s.links = linkstore.NewInMemoryLinkStore()
	cafes := partnerstore.NewInMemoryCafeStore()

	cafe, err := partnermodels.NewCafe(domain.NewCafeID(), domain.NewPartnerID(), "Attribution Cafe", 0.05, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(cafes.Create(s.ctx, cafe))

	s.link, err = linkmodels.NewLink(domain.NewLinkID(), cafe.ID, "ATTR0001", "https://cafe.example", linkmodels.UTM{}, 365, time.Now())
	s.Require().NoError(err)
	s.Require().NoError(s.links.CreateIfCodeAvailable(s.ctx, s.link))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := service.New(conversions, s.links, cafes, service.WithLogger(logger))

	r := chi.NewRouter()
	New(svc, logger).Register(r)
	s.router = r
}

// do issues a request with client metadata in context, matching what the
// metadata middleware provides in production.
func (s *AttributionHandlerSuite) do(method, path, body, clientIP, userAgent string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req = req.WithContext(requestcontext.WithClientMetadata(req.Context(), clientIP, userAgent))
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *AttributionHandlerSuite) attribute(userID string, amount float64) models.Conversion {
	w := s.do(http.MethodPost, "/attributions",
		fmt.Sprintf(`{"user_id":%q,"link_id":%q,"amount":%g}`, userID, s.link.ID.String(), amount),
		"203.0.113.7", "Mozilla/5.0")
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())

	var conversion models.Conversion
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &conversion))
	return conversion
}

func (s *AttributionHandlerSuite) TestAttribute() {
	s.Run("creates a conversion with the cafe's rate", func() {
		conversion := s.attribute("user-1", 10000)
		s.Equal("user-1", conversion.UserID)
		s.Equal(s.link.ID, conversion.LinkID)
		s.InDelta(0.05, conversion.CommissionRate, 1e-9)
		s.InDelta(500, conversion.CommissionAmount, 1e-9)
	})

	s.Run("second attribution conflicts and returns the first", func() {
		first := s.attribute("user-2", 10000)

		w := s.do(http.MethodPost, "/attributions",
			fmt.Sprintf(`{"user_id":"user-2","link_id":%q,"amount":99}`, s.link.ID.String()),
			"203.0.113.7", "Mozilla/5.0")
		s.Require().Equal(http.StatusConflict, w.Code)

		var resp struct {
			Error    string            `json:"error"`
			Existing models.Conversion `json:"existing_attribution"`
		}
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
		s.Equal("conflict", resp.Error)
		s.Equal(first.ID, resp.Existing.ID)
	})

	s.Run("unknown link is 404", func() {
		w := s.do(http.MethodPost, "/attributions",
			fmt.Sprintf(`{"user_id":"user-3","link_id":%q,"amount":100}`, domain.NewLinkID().String()),
			"203.0.113.7", "Mozilla/5.0")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("missing user_id is rejected", func() {
		w := s.do(http.MethodPost, "/attributions",
			fmt.Sprintf(`{"link_id":%q,"amount":100}`, s.link.ID.String()),
			"203.0.113.7", "Mozilla/5.0")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("negative amount is rejected", func() {
		w := s.do(http.MethodPost, "/attributions",
			fmt.Sprintf(`{"user_id":"user-4","link_id":%q,"amount":-1}`, s.link.ID.String()),
			"203.0.113.7", "Mozilla/5.0")
		s.Equal(http.StatusBadRequest, w.Code)
	})

	s.Run("malformed link id is rejected", func() {
		w := s.do(http.MethodPost, "/attributions",
			`{"user_id":"user-5","link_id":"nope","amount":100}`,
			"203.0.113.7", "Mozilla/5.0")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}

func (s *AttributionHandlerSuite) TestReads() {
	conversion := s.attribute("reader-1", 5000)

	s.Run("get conversion by id", func() {
		w := s.do(http.MethodGet, "/conversions/"+conversion.ID.String(), "", "", "")
		s.Require().Equal(http.StatusOK, w.Code)

		var got models.Conversion
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal(conversion.ID, got.ID)
	})

	s.Run("unknown conversion is 404", func() {
		w := s.do(http.MethodGet, "/conversions/"+domain.NewConversionID().String(), "", "", "")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("get attribution by user", func() {
		w := s.do(http.MethodGet, "/attributions/users/reader-1", "", "", "")
		s.Require().Equal(http.StatusOK, w.Code)

		var got models.Conversion
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal(conversion.ID, got.ID)
	})

	s.Run("unattributed user is 404", func() {
		w := s.do(http.MethodGet, "/attributions/users/nobody", "", "", "")
		s.Equal(http.StatusNotFound, w.Code)
	})
}

func (s *AttributionHandlerSuite) TestFallback() {
	s.attribute("fallback-user", 7500)

	s.Run("matching client fingerprint recovers the attribution", func() {
		w := s.do(http.MethodGet, "/attributions/fallback", "", "203.0.113.7", "Mozilla/5.0")
		s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

		var got models.Conversion
		s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
		s.Equal("fallback-user", got.UserID)
	})

	s.Run("different client is a miss", func() {
		w := s.do(http.MethodGet, "/attributions/fallback", "", "198.51.100.9", "curl/8.0")
		s.Equal(http.StatusNotFound, w.Code)
	})

	s.Run("within_days must be positive", func() {
		w := s.do(http.MethodGet, "/attributions/fallback?within_days=0", "", "203.0.113.7", "Mozilla/5.0")
		s.Equal(http.StatusBadRequest, w.Code)
	})
}
