package inference_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/forgecloud/podscaler/core/inference"
	"github.com/forgecloud/podscaler/core/types"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// fakeComfyServer is a minimal stand-in for the inference server's
// /prompt, /history, /view, and /ws surface, enough to drive
// HTTPClient.Prompt through its whole algorithm.
type fakeComfyServer struct {
	server     *httptest.Server
	promptID   string
	streamMsgs []map[string]any
	artifact   []byte
}

func newFakeComfyServer(streamMsgs []map[string]any, artifact []byte) *fakeComfyServer {
	f := &fakeComfyServer{promptID: "remote-prompt-1", streamMsgs: streamMsgs, artifact: artifact}
	mux := http.NewServeMux()

	mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"prompt_id": f.promptID})
	})

	mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			f.promptID: map[string]any{
				"outputs": map[string]any{
					"114": map[string]any{
						"images": []map[string]string{
							{"filename": "out.png", "subfolder": "", "type": "output"},
						},
					},
				},
			},
		})
	})

	mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
		w.Write(f.artifact)
	})

	upgrader := websocket.Upgrader{}
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, msg := range f.streamMsgs {
			conn.WriteJSON(msg)
		}
		time.Sleep(200 * time.Millisecond)
	})

	f.server = httptest.NewServer(mux)
	return f
}

func (f *fakeComfyServer) podInfo() types.PodInfo {
	host := strings.TrimPrefix(f.server.URL, "http://")
	parts := strings.Split(host, ":")
	return types.PodInfo{
		PublicIP:     parts[0],
		PortMappings: types.PortMappings{"8188": atoiPort(parts[1]), "22": 2222},
	}
}

func atoiPort(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			break
		}
		n = n*10 + int(c-'0')
	}
	return n
}

func solidPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 200, B: 30, A: 128})
		}
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

var _ = Describe("HTTPClient.Prompt", func() {
	var client *inference.HTTPClient

	BeforeEach(func() {
		client = inference.NewHTTPClient("../../workflows")
	})

	It("returns JPEG bytes on a clean execution_success", func() {
		srv := newFakeComfyServer([]map[string]any{
			{"type": "execution_success", "data": map[string]any{"prompt_id": "remote-prompt-1"}},
		}, solidPNG())
		defer srv.server.Close()

		p := types.Prompt{PromptID: "p1", WorkflowType: types.WorkflowGhibli, InputURL: "https://example.com/in.png"}
		out, err := client.Prompt(context.Background(), srv.podInfo(), p, false, 10, 20*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(out[:3]).To(Equal([]byte{0xFF, 0xD8, 0xFF}))
	})

	It("treats executing with a nil node as success", func() {
		srv := newFakeComfyServer([]map[string]any{
			{"type": "executing", "data": map[string]any{"node": nil, "prompt_id": "remote-prompt-1"}},
		}, solidPNG())
		defer srv.server.Close()

		p := types.Prompt{PromptID: "p2", WorkflowType: types.WorkflowGhibli, InputURL: "u"}
		out, err := client.Prompt(context.Background(), srv.podInfo(), p, false, 10, 20*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).NotTo(BeEmpty())
	})

	It("fails with the reported exception on execution_error", func() {
		srv := newFakeComfyServer([]map[string]any{
			{"type": "execution_error", "data": map[string]any{"prompt_id": "remote-prompt-1", "exception_message": "boom"}},
		}, solidPNG())
		defer srv.server.Close()

		p := types.Prompt{PromptID: "p3", WorkflowType: types.WorkflowGhibli, InputURL: "u"}
		_, err := client.Prompt(context.Background(), srv.podInfo(), p, false, 10, 20*time.Millisecond)
		Expect(err).To(HaveOccurred())
		var infErr *inference.Error
		Expect(errors.As(err, &infErr)).To(BeTrue())
		Expect(infErr.Kind).To(Equal(inference.KindExecutionFailed))
		Expect(infErr.Error()).To(ContainSubstring("boom"))
	})

	It("times out after exhausting the retry budget", func() {
		srv := newFakeComfyServer(nil, solidPNG())
		defer srv.server.Close()

		p := types.Prompt{PromptID: "p4", WorkflowType: types.WorkflowGhibli, InputURL: "u"}
		_, err := client.Prompt(context.Background(), srv.podInfo(), p, false, 3, 10*time.Millisecond)
		Expect(err).To(HaveOccurred())
		var infErr *inference.Error
		Expect(errors.As(err, &infErr)).To(BeTrue())
		Expect(infErr.Kind).To(Equal(inference.KindTimeout))
	})

	It("returns video bytes unchanged for a video workflow", func() {
		srv := newFakeComfyServer([]map[string]any{
			{"type": "execution_success", "data": map[string]any{"prompt_id": "remote-prompt-1"}},
		}, []byte("GIF89a-fake-bytes"))
		defer srv.server.Close()

		mux := http.NewServeMux()
		mux.HandleFunc("/prompt", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]string{"prompt_id": "remote-prompt-1"})
		})
		mux.HandleFunc("/history/", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"remote-prompt-1": map[string]any{
					"outputs": map[string]any{
						"114": map[string]any{
							"gifs": []map[string]string{{"filename": "out.gif", "subfolder": "", "type": "output"}},
						},
					},
				},
			})
		})
		mux.HandleFunc("/view", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("GIF89a-fake-bytes"))
		})
		upgrader := websocket.Upgrader{}
		mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
			conn, err := upgrader.Upgrade(w, r, nil)
			if err != nil {
				return
			}
			defer conn.Close()
			conn.WriteJSON(map[string]any{"type": "execution_success", "data": map[string]any{"prompt_id": "remote-prompt-1"}})
			time.Sleep(200 * time.Millisecond)
		})
		videoSrv := httptest.NewServer(mux)
		defer videoSrv.Close()

		host := strings.TrimPrefix(videoSrv.URL, "http://")
		parts := strings.Split(host, ":")
		info := types.PodInfo{PublicIP: parts[0], PortMappings: types.PortMappings{"8188": atoiPort(parts[1]), "22": 2222}}

		p := types.Prompt{PromptID: "p5", WorkflowType: types.WorkflowMagicVideo, InputURL: "u"}
		out, err := client.Prompt(context.Background(), info, p, false, 10, 20*time.Millisecond)
		Expect(err).NotTo(HaveOccurred())
		Expect(out).To(Equal([]byte("GIF89a-fake-bytes")))
	})
})
