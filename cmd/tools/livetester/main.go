package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"

	"github.com/zhouzirui/live-coach/backend/internal/config"
	livemodel "github.com/zhouzirui/live-coach/backend/internal/model/live"
	"github.com/zhouzirui/live-coach/backend/internal/service/live"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	if err := godotenv.Load(); err != nil {
		log.Printf("[WARN] 无法加载 .env，改用系统环境变量: %v", err)
	}

	mode := flag.String("mode", "gateway", "测试模式: gateway（经由本服务）或 upstream（直连上游）")
	server := flag.String("server", "ws://localhost:8080", "gateway 模式下的服务地址")
	learnerID := flag.String("learner", "demo", "学员 ID")
	audioPath := flag.String("audio", "", "输入音频文件路径")
	mimeType := flag.String("mime", "", "音频 MIME 类型，默认根据扩展名推断")
	turns := flag.Int("turns", 1, "发送次数")
	interval := flag.Duration("interval", 2500*time.Millisecond, "两次发送之间的间隔")
	timeout := flag.Duration("timeout", 45*time.Second, "整体超时时间")

	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		log.Fatal("请通过 -audio 指定音频文件路径")
	}

	audio, err := os.ReadFile(*audioPath)
	if err != nil {
		log.Fatalf("读取音频文件失败: %v", err)
	}
	if *mimeType == "" {
		*mimeType = guessMimeType(*audioPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	switch *mode {
	case "gateway":
		runGateway(ctx, *server, *learnerID, audio, *mimeType, *turns, *interval)
	case "upstream":
		runUpstream(ctx, audio, *mimeType, *turns, *interval)
	default:
		flag.Usage()
		log.Fatal("请通过 -mode=gateway 或 -mode=upstream 指定测试模式")
	}
}

func runGateway(ctx context.Context, server, learnerID string, audio []byte, mimeType string, turns int, interval time.Duration) {
	endpoint, err := url.JoinPath(server, "/api/live/ws", learnerID)
	if err != nil {
		log.Fatalf("无效的服务地址: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		log.Fatalf("连接网关失败: %v", err)
	}
	defer conn.Close()

	started := readEnvelope(ctx, conn)
	if started["type"] != "session_started" {
		log.Fatalf("会话启动失败: %v", started)
	}
	log.Printf("会话已建立: session=%v slide=%v", started["live_session_id"], started["slide_context"])

	payload := base64.StdEncoding.EncodeToString(audio)
	for i := 0; i < turns; i++ {
		if i > 0 {
			time.Sleep(interval)
		}

		start := time.Now()
		if err := conn.WriteJSON(map[string]string{"type": "audio", "data": payload, "mime_type": mimeType}); err != nil {
			log.Fatalf("发送音频失败: %v", err)
		}

		for {
			env := readEnvelope(ctx, conn)
			if env["type"] == "ping" {
				continue
			}
			printEnvelope(i+1, env, time.Since(start))
			break
		}
	}

	_ = conn.WriteJSON(map[string]string{"type": "close"})
}

func runUpstream(ctx context.Context, audio []byte, mimeType string, turns int, interval time.Duration) {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("配置加载失败: %v", err)
	}
	if !cfg.Live.Remote() {
		log.Fatal("upstream 模式需要配置 LIVE_WS_URL")
	}

	client := live.NewWebSocketClient(live.ClientOptions{
		URL:              cfg.Live.URL,
		APIKey:           cfg.Live.APIKey,
		HandshakeTimeout: cfg.Live.HandshakeTimeout,
		ResponseTimeout:  cfg.Live.ResponseTimeout,
	})

	stream, err := client.Connect(ctx, livemodel.SessionConfig{
		Model:              cfg.Live.Model,
		ResponseModalities: cfg.Live.Modalities,
		SystemInstruction:  "You are a friendly coach. Reply briefly.",
	})
	if err != nil {
		log.Fatalf("上游握手失败: %v", err)
	}
	defer stream.Close()
	log.Printf("上游会话已建立: remote=%s", stream.RemoteID())

	for i := 0; i < turns; i++ {
		if i > 0 {
			time.Sleep(interval)
		}

		start := time.Now()
		if err := stream.SendAudio(ctx, audio, mimeType); err != nil {
			log.Fatalf("发送音频失败: %v", err)
		}

		var text strings.Builder
		var audioBytes, bad int
		reader := stream.Receive(ctx)
		for {
			chunk, err := reader.Recv()
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Fatalf("接收失败: %v", err)
			}
			if chunk.Err != nil {
				bad++
				continue
			}
			text.WriteString(chunk.Text)
			audioBytes += len(chunk.Audio)
		}
		reader.Close()

		log.Printf("[turn %d] %s text=%q audio=%dB malformed=%d", i+1, time.Since(start).Round(time.Millisecond), text.String(), audioBytes, bad)
	}
}

func readEnvelope(ctx context.Context, conn *websocket.Conn) map[string]any {
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		log.Fatalf("读取消息失败: %v", err)
	}

	var env map[string]any
	if err := json.Unmarshal(data, &env); err != nil {
		log.Fatalf("消息解析失败: %v", err)
	}
	return env
}

func printEnvelope(turn int, env map[string]any, elapsed time.Duration) {
	switch env["type"] {
	case "audio_response":
		meta, _ := env["metadata"].(map[string]any)
		data, _ := env["data"].(string)
		audio, _ := base64.StdEncoding.DecodeString(data)
		fmt.Printf("[turn %d] %s audio=%dB transcript=%q updated=%v processing=%v\n",
			turn, elapsed.Round(time.Millisecond), len(audio), meta["text_transcript"], meta["session_updated"], meta["processing_metadata"])
	case "error":
		fmt.Printf("[turn %d] error type=%v message=%v\n", turn, env["error_type"], env["message"])
	default:
		fmt.Printf("[turn %d] %v\n", turn, env)
	}
}

func guessMimeType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pcm", ".raw":
		return "audio/pcm"
	case ".webm":
		return "audio/webm"
	}
	if t := mime.TypeByExtension(ext); strings.HasPrefix(t, "audio/") {
		return t
	}
	return "audio/webm"
}
