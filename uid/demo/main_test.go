package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/hatlonely/uidgen/cfg"
	. "github.com/smartystreets/goconvey/convey"
)

const testConfig = `
logger:
  namespace: github.com/hatlonely/uidgen/log/logger
  type: SLog
  options:
    level: warn
generator:
  namespace: github.com/hatlonely/uidgen/uid
  type: CachedStrGenerator
  options:
    family: digit
    timezone: UTC
    worker:
      namespace: github.com/hatlonely/uidgen/uid/worker
      type: LeaseAssigner
      options:
        timezone: UTC
        store:
          namespace: github.com/hatlonely/uidgen/uid/worker
          type: RedisLeaseStore
          options:
            endpoint: ENDPOINT
`

func TestDemo(t *testing.T) {
	Convey("加载配置并生成", t, func() {
		mr := miniredis.RunT(t)
		filename := filepath.Join(t.TempDir(), "config.yaml")
		So(os.WriteFile(filename, []byte(testConfig), 0644), ShouldBeNil)

		t.Setenv("UIDGEN_DEMO_GENERATOR_OPTIONS_WORKER_OPTIONS_STORE_OPTIONS_ENDPOINT", mr.Addr())

		options, err := loadOptions(filename, "UIDGEN_DEMO")
		So(err, ShouldBeNil)
		So(options.Generator.Type, ShouldEqual, "CachedStrGenerator")

		So(run(context.Background(), filename, "UIDGEN_DEMO", 3, 0, map[string]int64{"appId": 12}), ShouldBeNil)
		So(mr.Exists("workerId:exist:0"), ShouldBeTrue)

		Convey("配置错误", func() {
			_, err := loadOptions(filepath.Join(t.TempDir(), "missing.yaml"), "")
			So(err, ShouldNotBeNil)
			So(run(context.Background(), filename, "", 1, 0, nil), ShouldNotBeNil)
		})

		Convey("重新加载日志", func() {
			node, err := cfg.Decode([]byte(testConfig), cfg.FormatYAML)
			So(err, ShouldBeNil)
			reloadLogger("")(node, nil)
			reloadLogger("")(nil, os.ErrNotExist)
		})
	})
}
