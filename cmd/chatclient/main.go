package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/google/uuid"

	"edchat/internal/client"
	"edchat/internal/config"
	"edchat/internal/connstate"
	"edchat/internal/protocol"
)

// 终端聊天客户端，用于本地联调。按行读取命令：
//
//	/dm <userId> <text>     发送私聊消息
//	/group <groupId> <text> 发送群聊消息
//	/join <roomId>          加入房间
//	/leave <roomId>         离开房间
//	/room <roomId> <text>   发送房间消息
//	/read <userId>          将来自某人的消息标记为已读
//	/rtt                    打印最近一次心跳往返耗时
//	/quit                   退出
func main() {
	var (
		urlFlag   = flag.String("url", "", "WebSocket 服务地址 (默认取配置)")
		tokenFlag = flag.String("token", "", "JWT 令牌")
	)
	flag.Parse()

	cfg, err := config.LoadConfig("")
	if err != nil {
		log.Fatalf("无法加载配置: %v", err)
	}

	url := *urlFlag
	if url == "" {
		url = fmt.Sprintf("ws://%s:%s%s", cfg.Server.Host, cfg.Server.Port, cfg.Server.WebSocketPath)
	}

	c := client.New(client.ConfigFrom(cfg.Client, url, *tokenFlag))
	c.OnStateChange = func(state connstate.State) {
		log.Printf("连接状态: %s", state)
	}
	c.OnFrame = printFrame

	if err := c.Connect(context.Background()); err != nil {
		log.Fatalf("连接失败: %v", err)
	}
	defer c.Close()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			return
		}
		if err := runCommand(c, line); err != nil {
			log.Printf("命令失败: %v", err)
		}
	}
}

func runCommand(c *client.Client, line string) error {
	cmd, rest, _ := strings.Cut(line, " ")
	switch cmd {
	case "/dm":
		target, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("用法: /dm <userId> <text>")
		}
		return c.SendDirect(text, target, uuid.NewString())
	case "/group":
		target, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("用法: /group <groupId> <text>")
		}
		return c.SendGroup(text, target, uuid.NewString())
	case "/join":
		return c.JoinRoom(protocol.RoomID(rest))
	case "/leave":
		return c.LeaveRoom(protocol.RoomID(rest))
	case "/room":
		target, text, ok := strings.Cut(rest, " ")
		if !ok {
			return fmt.Errorf("用法: /room <roomId> <text>")
		}
		return c.SendRoom(text, protocol.RoomID(target), uuid.NewString())
	case "/read":
		return c.MarkRead(rest)
	case "/rtt":
		fmt.Printf("RTT: %s\n", c.RTT())
		return nil
	default:
		return fmt.Errorf("未知命令: %s", cmd)
	}
}

func printFrame(frame protocol.Outgoing) {
	switch f := frame.(type) {
	case *protocol.AuthSuccess:
		fmt.Printf("[认证成功] 用户 %s\n", f.UserID)
	case *protocol.ErrorFrame:
		fmt.Printf("[错误] %s\n", f.Message)
	case *protocol.MessageSent:
		fmt.Printf("[已发送] id=%s tempId=%s\n", f.Message.ID, f.TempID)
	case *protocol.GroupMessageSent:
		fmt.Printf("[群消息已发送] id=%s tempId=%s\n", f.Message.ID, f.TempID)
	case *protocol.NewMessageFrame:
		from := f.Message.SenderID
		if f.Message.Sender != nil {
			from = f.Message.Sender.Username
		}
		fmt.Printf("[新消息] %s: %s\n", from, f.Message.Content)
	case *protocol.MessagesRead:
		fmt.Printf("[已读回执] 用户 %s 已读\n", f.ReadBy)
	default:
		fmt.Printf("[帧] %v\n", frame.OutgoingKind())
	}
}
