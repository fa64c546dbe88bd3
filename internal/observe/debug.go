// file: internal/observe/debug.go
package observe

import (
	"log/slog"
	"net/http"
	"net/http/pprof"
)

// EnablePprof 在独立地址上暴露 /debug/pprof。地址为空表示关闭。
// 用显式 mux 而不是 DefaultServeMux，避免和业务端口混在一起。
func EnablePprof(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)

	go func() {
		slog.Info("[Observe] pprof 调试端点已开启", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			slog.Error("[Observe] pprof 端点退出", "error", err)
		}
	}()
}
