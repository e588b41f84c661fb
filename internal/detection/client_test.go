package detection

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap/zaptest"
	"go.viam.com/test"

	"posvision/internal/frame"
)

const sandwichJSON = `{"imageWidth":640,"imageHeight":480,"detections":[{"label":"sandwich","confidence":0.87,"box":[100,50,300,250]}],"inferenceMs":120}`

func testPayload() *frame.Payload {
	return &frame.Payload{
		Data:        []byte{0xFF, 0xD8, 0x01, 0x02, 0xFF, 0xD9},
		Filename:    frame.StreamFilename,
		ContentType: frame.ContentTypeJPEG,
	}
}

func TestInferSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		test.That(t, r.Method, test.ShouldEqual, http.MethodPost)
		test.That(t, r.URL.Path, test.ShouldEqual, "/infer")

		file, header, err := r.FormFile("file")
		test.That(t, err, test.ShouldBeNil)
		defer file.Close()
		test.That(t, header.Filename, test.ShouldEqual, "frame.jpg")
		test.That(t, header.Header.Get("Content-Type"), test.ShouldEqual, "image/jpeg")
		data, _ := io.ReadAll(file)
		test.That(t, data, test.ShouldResemble, testPayload().Data)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sandwichJSON))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", zaptest.NewLogger(t).Sugar())
	res, err := c.Infer(context.Background(), testPayload())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.ImageWidth, test.ShouldEqual, 640)
	test.That(t, res.ImageHeight, test.ShouldEqual, 480)
	test.That(t, res.InferenceMs, test.ShouldEqual, 120.0)
	test.That(t, res.Count(), test.ShouldEqual, 1)
	test.That(t, res.Detections[0].Label, test.ShouldEqual, "sandwich")
	test.That(t, res.Detections[0].Box, test.ShouldResemble, Box{100, 50, 300, 250})
	test.That(t, res.Detections[0].TagText(), test.ShouldEqual, "sandwich 87%")
}

func TestInferAcceptsAny2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(sandwichJSON))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, zaptest.NewLogger(t).Sugar()).Infer(context.Background(), testPayload())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Count(), test.ShouldEqual, 1)
}

func TestInferNon2xxIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model exploded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, zaptest.NewLogger(t).Sugar()).Infer(context.Background(), testPayload())
	test.That(t, err, test.ShouldNotBeNil)

	var se *ServiceError
	test.That(t, errors.As(err, &se), test.ShouldBeTrue)
	test.That(t, se.StatusCode, test.ShouldEqual, http.StatusInternalServerError)
	test.That(t, err.Error(), test.ShouldContainSubstring, "model exploded")
}

func TestInferTransportFailureIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, zaptest.NewLogger(t).Sugar()).Infer(context.Background(), testPayload())
	test.That(t, IsServiceError(err), test.ShouldBeTrue)
}

func TestInferBadBodyIsServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, zaptest.NewLogger(t).Sugar()).Infer(context.Background(), testPayload())
	test.That(t, IsServiceError(err), test.ShouldBeTrue)
}

func TestInferEmptyPayload(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1", zaptest.NewLogger(t).Sugar()).Infer(context.Background(), nil)
	test.That(t, IsServiceError(err), test.ShouldBeTrue)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		test.That(t, r.URL.Path, test.ShouldEqual, "/health")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	h, err := NewClient(srv.URL, zaptest.NewLogger(t).Sugar()).Health(context.Background())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, h.Status, test.ShouldEqual, "ok")
}

func TestPercentRounding(t *testing.T) {
	test.That(t, Detection{Confidence: 0.875}.Percent(), test.ShouldEqual, 88)
	test.That(t, Detection{Confidence: 0.004}.Percent(), test.ShouldEqual, 0)
	test.That(t, Detection{Confidence: 1}.Percent(), test.ShouldEqual, 100)
}

func TestBaseURLTrimsTrailingSlash(t *testing.T) {
	c := NewClient("http://detector:8000/", zaptest.NewLogger(t).Sugar())
	test.That(t, c.BaseURL(), test.ShouldEqual, "http://detector:8000")
}
