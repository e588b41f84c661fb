package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.viam.com/test"
)

func lookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(nil, lookup(nil))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.InferURL, test.ShouldEqual, DefaultInferURL)
	test.That(t, cfg.StreamInterval, test.ShouldEqual, 600*time.Millisecond)
	test.That(t, cfg.Display.Width, test.ShouldEqual, 640)
	test.That(t, cfg.Auth.Enabled, test.ShouldBeFalse)
}

func TestLoadPrecedence(t *testing.T) {
	env := lookup(map[string]string{
		"INFER_URL":       "http://detector:8000",
		"STREAM_INTERVAL": "1s",
		"CAMERA_FPS":      "10",
		"LOG_LEVEL":       "debug",
	})

	cfg, err := Load([]string{"-infer-url", "http://gpu-box:9000", "-camera-fps", "30"}, env)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.InferURL, test.ShouldEqual, "http://gpu-box:9000")
	test.That(t, cfg.StreamInterval, test.ShouldEqual, time.Second)
	test.That(t, cfg.Camera.FPS, test.ShouldEqual, 30)
	test.That(t, cfg.Log.Level, test.ShouldEqual, "debug")
}

func TestLoadRejectsBadValues(t *testing.T) {
	_, err := Load(nil, lookup(map[string]string{"CAMERA_FPS": "fast"}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "CAMERA_FPS")

	_, err = Load(nil, lookup(map[string]string{"INFER_URL": "not a url"}))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Load(nil, lookup(map[string]string{"AUTH_ENABLED": "true"}))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "Password")

	_, err = Load([]string{"-log-level", "verbose"}, lookup(nil))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = Load([]string{"-stream-interval", "0s"}, lookup(nil))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDotEnvLookup(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	err := os.WriteFile(path, []byte("INFER_URL=http://from-file:8000\nAUTH_ENABLED=true\nAUTH_PASSWORD=tray42\n"), 0o600)
	test.That(t, err, test.ShouldBeNil)

	env, err := DotEnvLookup(path, lookup(map[string]string{"INFER_URL": "http://from-env:8000"}))
	test.That(t, err, test.ShouldBeNil)

	cfg, err := Load(nil, env)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.InferURL, test.ShouldEqual, "http://from-env:8000")
	test.That(t, cfg.Auth.Enabled, test.ShouldBeTrue)
	test.That(t, cfg.Auth.Password, test.ShouldEqual, "tray42")

	_, err = DotEnvLookup(filepath.Join(t.TempDir(), "missing.env"), nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, LoadDotEnv(filepath.Join(t.TempDir(), "missing.env")), test.ShouldBeNil)
}
