package config_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/stridewell/growthloop/internal/config"
)

func TestDefaults(t *testing.T) {
	Convey("Given a default Config", t, func() {
		cfg := config.New()

		Convey("Then it should carry sane defaults", func() {
			So(cfg.Addr, ShouldEqual, ":9080")
			So(cfg.EventQueueSize, ShouldEqual, 100_000)
			So(cfg.ReplayWindowSeconds, ShouldEqual, 300)
			So(cfg.RejectThreshold, ShouldEqual, 0.7)
			So(cfg.DownweightThreshold, ShouldEqual, 0.3)
			So(cfg.HalfLifeDays, ShouldEqual, 30)
			So(cfg.PriorAlpha, ShouldEqual, 0.5)
			So(cfg.PriorBeta, ShouldEqual, 0.5)
			So(cfg.MinContextObservations, ShouldEqual, 30)
			So(cfg.MaxSignupsPerAddress24h, ShouldEqual, 5)
			So(len(cfg.AutomationSignatures), ShouldBeGreaterThan, 0)
		})
	})
}

func TestLoad(t *testing.T) {
	Convey("Given the environment", t, func() {
		Convey("When loading with no overrides", func() {
			os.Unsetenv("GROWTH_CONFIG")
			cfg, err := config.Load(context.Background())

			Convey("Then defaults should come back", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":9080")
			})
		})

		Convey("When env vars override defaults", func() {
			os.Setenv("GROWTH_ADDR", ":7070")
			os.Setenv("GROWTH_WORKER_COUNT", "3")
			defer os.Unsetenv("GROWTH_ADDR")
			defer os.Unsetenv("GROWTH_WORKER_COUNT")

			cfg, err := config.Load(context.Background())

			Convey("Then the env values should win", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":7070")
				So(cfg.WorkerCount, ShouldEqual, 3)
			})
		})

		Convey("When a YAML file is provided", func() {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			err := os.WriteFile(path, []byte("addr: \":6060\"\nhalf_life_days: 14\n"), 0o600)
			So(err, ShouldBeNil)

			os.Setenv("GROWTH_CONFIG", path)
			defer os.Unsetenv("GROWTH_CONFIG")

			cfg, err := config.Load(context.Background())

			Convey("Then file values should override defaults", func() {
				So(err, ShouldBeNil)
				So(cfg.Addr, ShouldEqual, ":6060")
				So(cfg.HalfLifeDays, ShouldEqual, 14)
			})
		})

		Convey("When thresholds are inverted", func() {
			os.Setenv("GROWTH_REJECT_THRESHOLD", "0.2")
			defer os.Unsetenv("GROWTH_REJECT_THRESHOLD")

			_, err := config.Load(context.Background())

			Convey("Then loading should fail with an invalid config error", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "invalid config")
			})
		})
	})
}
