package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/roastboard/internal/adapters/http/api"
	"github.com/okian/roastboard/internal/adapters/objectstore"
	"github.com/okian/roastboard/internal/domain/model"
	"github.com/okian/roastboard/internal/domain/ranking"
	"github.com/okian/roastboard/internal/domain/scoring"
	"github.com/okian/roastboard/internal/domain/upload"
	"github.com/okian/roastboard/internal/domain/validation"
	"github.com/okian/roastboard/pkg/logger"
)

type fakeDeps struct {
	issued    []validation.Accepted
	issueErr  error
	verifyErr error
	capType   string
	received  []byte
	uploadErr error
	processed []scoring.Request
	outcome   scoring.Outcome
	procErr   error
	queries   []ranking.Query
	board     ranking.Board
	boardErr  error
	readyErr  error
}

func (f *fakeDeps) Issue(_ context.Context, acc validation.Accepted) (upload.Authorization, error) {
	if f.issueErr != nil {
		return upload.Authorization{}, f.issueErr
	}
	f.issued = append(f.issued, acc)
	key := model.ObjectKey("2026-10-14", "id-1", acc.Format)
	return upload.Authorization{
		ID:              "id-1",
		CreatedAtMillis: 1760436000000,
		SessionDate:     "2026-10-14",
		UploadURL:       "http://booth.local/uploads/" + key + "?token=t",
		ExpiresIn:       300,
		ObjectKey:       key,
		ContentType:     acc.Format.ContentType(),
	}, nil
}

func (f *fakeDeps) VerifyUpload(token, key string) (upload.Capability, error) {
	if f.verifyErr != nil {
		return upload.Capability{}, f.verifyErr
	}
	if token != "good" {
		return upload.Capability{}, upload.ErrInvalidCapability
	}
	ct := f.capType
	if ct == "" {
		ct = "audio/webm"
	}
	return upload.Capability{ID: "id-1", Key: key, ContentType: ct, MaxBytes: 16, ExpiresAt: time.Now().Add(time.Minute)}, nil
}

func (f *fakeDeps) ReceiveUpload(_ context.Context, c upload.Capability, body io.Reader) (objectstore.PutResult, error) {
	if f.uploadErr != nil {
		return objectstore.PutResult{}, f.uploadErr
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return objectstore.PutResult{}, err
	}
	f.received = b
	return objectstore.PutResult{Key: c.Key, Size: int64(len(b))}, nil
}

func (f *fakeDeps) Process(_ context.Context, req scoring.Request) (scoring.Outcome, error) {
	f.processed = append(f.processed, req)
	return f.outcome, f.procErr
}

func (f *fakeDeps) Leaderboard(_ context.Context, q ranking.Query) (ranking.Board, error) {
	f.queries = append(f.queries, q)
	return f.board, f.boardErr
}

func (f *fakeDeps) Ready(context.Context) error { return f.readyErr }

func (f *fakeDeps) GetStats(context.Context) map[string]any {
	return map[string]any{"queue_size": 0}
}

func newHandler(deps *fakeDeps) http.Handler {
	return api.NewServer(deps, api.WithMaxLimit(50), api.WithLogger(logger.Nop())).Handler()
}

func do(h http.Handler, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(w *httptest.ResponseRecorder) map[string]any {
	var out map[string]any
	So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
	return out
}

func TestSubmit(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &fakeDeps{}
		h := newHandler(deps)

		Convey("When a valid submission is posted", func() {
			w := do(h, http.MethodPost, "/submit", "application/json", `{"name":"Ada","audioFormat":"webm","audioSize":1024}`)

			Convey("Then it returns the upload authorization", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["responseId"], ShouldEqual, "id-1")
				So(body["s3Key"], ShouldEqual, "2026-10-14/id-1.webm")
				So(body["expiresIn"], ShouldEqual, float64(300))
				So(body["timestamp"], ShouldEqual, float64(1760436000000))
				So(body["uploadUrl"], ShouldStartWith, "http://booth.local/uploads/")
				So(deps.issued, ShouldHaveLength, 1)
				So(deps.issued[0].SizeBytes, ShouldEqual, int64(1024))
			})

			Convey("Then CORS headers are present", func() {
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			})
		})

		Convey("When every field is invalid", func() {
			w := do(h, http.MethodPost, "/submit", "application/json", `{"name":"","audioFormat":"ogg","audioSize":-1}`)

			Convey("Then every violation is listed and nothing is issued", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				body := decode(w)
				So(body["error"], ShouldEqual, "Invalid input")
				So(body["details"], ShouldResemble, []any{
					validation.MsgNameRequired,
					validation.MsgFormatInvalid,
					validation.MsgSizeNotPositive,
				})
				So(deps.issued, ShouldBeEmpty)
			})
		})

		Convey("When the body is not JSON", func() {
			w := do(h, http.MethodPost, "/submit", "application/json", `nope`)

			Convey("Then it is a 400", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			})
		})

		Convey("When the store fails", func() {
			deps.issueErr = errors.New("disk full")
			w := do(h, http.MethodPost, "/submit", "application/json", `{"name":"Ada","audioFormat":"wav","audioSize":10}`)

			Convey("Then it is a 500 with the cause", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				body := decode(w)
				So(body["error"], ShouldEqual, "Internal server error")
				So(body["message"], ShouldEqual, "disk full")
			})
		})
	})
}

func TestUpload(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &fakeDeps{}
		h := newHandler(deps)
		target := "/uploads/2026-10-14/id-1.webm?token=good"

		Convey("When an authorized body is uploaded", func() {
			w := do(h, http.MethodPut, target, "audio/webm", "audio-bytes")

			Convey("Then it is stored under the key", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body["s3Key"], ShouldEqual, "2026-10-14/id-1.webm")
				So(body["size"], ShouldEqual, float64(11))
				So(string(deps.received), ShouldEqual, "audio-bytes")
			})
		})

		Convey("When the token is wrong", func() {
			w := do(h, http.MethodPut, "/uploads/2026-10-14/id-1.webm?token=bad", "audio/webm", "x")

			Convey("Then it is a 401", func() {
				So(w.Code, ShouldEqual, http.StatusUnauthorized)
			})
		})

		Convey("When the capability has expired", func() {
			deps.verifyErr = upload.ErrCapabilityExpired
			w := do(h, http.MethodPut, target, "audio/webm", "x")

			Convey("Then it is a 403", func() {
				So(w.Code, ShouldEqual, http.StatusForbidden)
			})
		})

		Convey("When the content type differs from the declared format", func() {
			w := do(h, http.MethodPut, target, "audio/wav", "x")

			Convey("Then it is a 415 and nothing is stored", func() {
				So(w.Code, ShouldEqual, http.StatusUnsupportedMediaType)
				So(deps.received, ShouldBeNil)
			})
		})

		Convey("When the declared length exceeds the capability", func() {
			w := do(h, http.MethodPut, target, "audio/webm", strings.Repeat("x", 17))

			Convey("Then it is a 413", func() {
				So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			})
		})

		Convey("When the submission was already scored", func() {
			deps.uploadErr = fmt.Errorf("wrapped: %w", model.ErrAlreadyClaimed)
			w := do(h, http.MethodPut, target, "audio/webm", "x")

			Convey("Then it is a 409", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
			})
		})
	})
}

func TestProcess(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &fakeDeps{}
		h := newHandler(deps)

		Convey("When scoring succeeds", func() {
			deps.outcome = scoring.Outcome{SubmissionID: "id-1", Transcript: "great", Score: 85, Roast: "Booked.", PrizeEligible: true}
			w := do(h, http.MethodPost, "/process", "application/json", `{"responseId":"id-1","timestamp":1760436000000}`)

			Convey("Then the outcome is returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				body := decode(w)
				So(body, ShouldResemble, map[string]any{
					"responseId":    "id-1",
					"transcription": "great",
					"score":         float64(85),
					"roast":         "Booked.",
					"prizeEligible": true,
				})
				So(deps.processed, ShouldResemble, []scoring.Request{{ID: "id-1", CreatedAtMillis: 1760436000000}})
			})
		})

		Convey("When the id is missing", func() {
			w := do(h, http.MethodPost, "/process", "application/json", `{}`)

			Convey("Then it is a 400 and nothing runs", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(decode(w)["details"], ShouldResemble, []any{"responseId is required"})
				So(deps.processed, ShouldBeEmpty)
			})
		})

		Convey("When the id is unknown", func() {
			deps.procErr = &scoring.ProcessError{SubmissionID: "x", Stage: scoring.StageLookup, Err: model.ErrNotFound}
			w := do(h, http.MethodPost, "/process", "application/json", `{"responseId":"x"}`)

			Convey("Then it is a 404", func() {
				So(w.Code, ShouldEqual, http.StatusNotFound)
				So(decode(w)["error"], ShouldEqual, "Response not found")
			})
		})

		Convey("When another run holds the submission", func() {
			deps.procErr = model.ErrAlreadyClaimed
			w := do(h, http.MethodPost, "/process", "application/json", `{"responseId":"x"}`)

			Convey("Then it is a 409", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
			})
		})

		Convey("When the submission already failed", func() {
			deps.procErr = model.ErrTerminal
			w := do(h, http.MethodPost, "/process", "application/json", `{"responseId":"x"}`)

			Convey("Then it is a 409", func() {
				So(w.Code, ShouldEqual, http.StatusConflict)
				So(decode(w)["error"], ShouldEqual, "Submission already failed")
			})
		})

		Convey("When an upstream stage is exhausted", func() {
			deps.procErr = &scoring.ProcessError{
				SubmissionID: "x",
				Stage:        scoring.StageTranscribe,
				Err:          &model.UpstreamError{Stage: scoring.StageTranscribe, Err: errors.New("503")},
			}
			w := do(h, http.MethodPost, "/process", "application/json", `{"responseId":"x"}`)

			Convey("Then it is a 500 naming the stage", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				body := decode(w)
				So(body["error"], ShouldEqual, "Processing failed")
				So(body["message"], ShouldEqual, "transcribe: 503")
				So(body["stage"], ShouldEqual, "transcribe")
				So(body["responseId"], ShouldEqual, "x")
			})
		})
	})
}

func TestLeaderboard(t *testing.T) {
	Convey("Given the API with a ranked session", t, func() {
		ts := time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC)
		e := ranking.Entry{Rank: 1, Name: "Ada", Score: 95, Roast: "Ticket booked.", Timestamp: ts, PrizeEligible: true}
		deps := &fakeDeps{board: ranking.Board{
			Leaderboard:       []ranking.Entry{e},
			Top3:              []ranking.Entry{e},
			TotalParticipants: 1,
			AverageScore:      95,
			SessionDate:       "2026-10-14",
			LastUpdated:       ts.Add(time.Minute),
		}}
		h := newHandler(deps)

		Convey("When the leaderboard is requested", func() {
			w := do(h, http.MethodGet, "/leaderboard?sessionDate=2026-10-14&limit=10", "", "")

			Convey("Then the board and cache hint are returned", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Header().Get("Cache-Control"), ShouldEqual, "max-age=2")
				body := decode(w)
				So(body["totalParticipants"], ShouldEqual, float64(1))
				So(body["averageScore"], ShouldEqual, float64(95))
				So(body["sessionDate"], ShouldEqual, "2026-10-14")
				So(body["lastUpdated"], ShouldEqual, "2026-10-14T09:31:00.000Z")
				rows := body["leaderboard"].([]any)
				So(rows, ShouldHaveLength, 1)
				So(rows[0], ShouldResemble, map[string]any{
					"rank": float64(1), "name": "Ada", "score": float64(95), "roast": "Ticket booked.",
					"timestamp": "2026-10-14T09:30:00.000Z", "prizeEligible": true,
				})
				So(deps.queries, ShouldResemble, []ranking.Query{{SessionDate: "2026-10-14", Limit: 10}})
			})
		})

		Convey("When no parameters are given", func() {
			w := do(h, http.MethodGet, "/leaderboard", "", "")

			Convey("Then defaults are left to the aggregator", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(deps.queries, ShouldResemble, []ranking.Query{{}})
			})
		})

		Convey("When the session is empty", func() {
			deps.board = ranking.Board{SessionDate: "2026-10-14", Leaderboard: []ranking.Entry{}, Top3: []ranking.Entry{}}
			w := do(h, http.MethodGet, "/leaderboard", "", "")

			Convey("Then arrays are empty, not null", func() {
				So(w.Body.String(), ShouldContainSubstring, `"leaderboard":[]`)
				So(w.Body.String(), ShouldContainSubstring, `"top3":[]`)
			})
		})

		Convey("When parameters are invalid", func() {
			for _, target := range []string{
				"/leaderboard?sessionDate=14-10-2026",
				"/leaderboard?limit=0",
				"/leaderboard?limit=abc",
				"/leaderboard?limit=51",
			} {
				w := do(h, http.MethodGet, target, "", "")
				So(w.Code, ShouldEqual, http.StatusBadRequest)
			}
			So(deps.queries, ShouldBeEmpty)
		})

		Convey("When the store fails", func() {
			deps.boardErr = errors.New("db down")
			w := do(h, http.MethodGet, "/leaderboard", "", "")

			Convey("Then it is a 500 without a cache hint", func() {
				So(w.Code, ShouldEqual, http.StatusInternalServerError)
				So(w.Header().Get("Cache-Control"), ShouldBeEmpty)
			})
		})
	})
}

func TestOperationalRoutes(t *testing.T) {
	Convey("Given the API", t, func() {
		deps := &fakeDeps{}
		h := newHandler(deps)

		Convey("Then a preflight request is answered with 204 and CORS headers", func() {
			w := do(h, http.MethodOptions, "/submit", "", "")
			So(w.Code, ShouldEqual, http.StatusNoContent)
			So(w.Header().Get("Access-Control-Allow-Methods"), ShouldEqual, "GET,POST,PUT,OPTIONS")
			So(w.Header().Get("Access-Control-Allow-Headers"), ShouldContainSubstring, "X-Amz-Security-Token")
		})

		Convey("Then every endpoint answers a cross-origin preflight", func() {
			for _, path := range []string{"/submit", "/process", "/leaderboard", "/uploads/2026-10-15/x.webm"} {
				req := httptest.NewRequest(http.MethodOptions, path, nil)
				req.Header.Set("Origin", "https://booth.example")
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				w := httptest.NewRecorder()
				h.ServeHTTP(w, req)
				So(w.Code, ShouldEqual, http.StatusNoContent)
				So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
			}
		})

		Convey("Then unmatched paths and methods still carry CORS headers", func() {
			w := do(h, http.MethodGet, "/nope", "", "")
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")

			w = do(h, http.MethodDelete, "/submit", "", "")
			So(w.Code, ShouldEqual, http.StatusMethodNotAllowed)
			So(w.Header().Get("Access-Control-Allow-Origin"), ShouldEqual, "*")
		})

		Convey("Then healthz serves metrics", func() {
			w := do(h, http.MethodGet, "/healthz", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("Then readyz reflects readiness", func() {
			So(do(h, http.MethodGet, "/readyz", "", "").Code, ShouldEqual, http.StatusOK)
			deps.readyErr = errors.New("store closed")
			So(do(h, http.MethodGet, "/readyz", "", "").Code, ShouldEqual, http.StatusServiceUnavailable)
		})

		Convey("Then stats are served as JSON", func() {
			w := do(h, http.MethodGet, "/stats", "", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			So(decode(w), ShouldContainKey, "queue_size")
		})

		Convey("Then unknown routes are 404", func() {
			So(do(h, http.MethodGet, "/events", "", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestErrors(t *testing.T) {
	Convey("Given an annotated API error", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.x", api.ErrBadRequest, cause)

		Convey("Then it matches both its kind and its cause", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, cause), ShouldBeTrue)
			So(err.Error(), ShouldEqual, "api.x: bad request: boom")
			So(api.Wrap("api.x", nil), ShouldBeNil)
			So(api.NewKind("api.y", api.ErrConflict).Error(), ShouldEqual, "api.y: conflict")
		})
	})
}
