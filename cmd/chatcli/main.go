// Command chatcli is a terminal client: log in or register against a
// gateway over HTTP, then open a framed TCP session against the backend
// the gateway hands back and exchange point-to-point messages
// interactively.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/relaychat/relaychat/internal/frame"
)

var (
	promptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	infoStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	msgStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("14"))
)

type gatewayClient struct {
	baseURL string
}

type loginReply struct {
	Token      string `json:"token"`
	ServerAddr string `json:"server_addr"`
	UID        uint64 `json:"uid"`
}

func (g *gatewayClient) login(username, passcode string) (*loginReply, error) {
	body, _ := json.Marshal(map[string]string{"username": username, "passcode": passcode})
	resp, err := http.Post(g.baseURL+"/login", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login failed with status %d", resp.StatusCode)
	}
	var reply loginReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

func (g *gatewayClient) register(username, passcode string) error {
	body, _ := json.Marshal(map[string]string{"username": username, "passcode": passcode})
	resp, err := http.Post(g.baseURL+"/register", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("register failed with status %d", resp.StatusCode)
	}
	return nil
}

func main() {
	reader := bufio.NewReader(os.Stdin)

	fmt.Print(promptStyle.Render("gateway address (host:port): "))
	gatewayAddr, _ := reader.ReadString('\n')
	gatewayAddr = strings.TrimSpace(gatewayAddr)

	gw := &gatewayClient{baseURL: "http://" + gatewayAddr}

	var token, serverAddr string
	var uid uint64

	for {
		fmt.Print(promptStyle.Render("command (login/register/exit)> "))
		cmd, _ := reader.ReadString('\n')
		cmd = strings.TrimSpace(cmd)

		switch cmd {
		case "login":
			username, passcode := readCreds(reader)
			reply, err := gw.login(username, passcode)
			if err != nil {
				fmt.Println(errStyle.Render("login failed: " + err.Error()))
				continue
			}
			token, serverAddr, uid = reply.Token, reply.ServerAddr, reply.UID
			fmt.Println(infoStyle.Render(fmt.Sprintf("login success, uid=%d server=%s", uid, serverAddr)))
		case "register":
			username, passcode := readCreds(reader)
			if err := gw.register(username, passcode); err != nil {
				fmt.Println(errStyle.Render("register failed: " + err.Error()))
				continue
			}
			fmt.Println(infoStyle.Render("register success"))
		case "exit":
			fmt.Println("bye")
			return
		default:
			fmt.Println(errStyle.Render("unknown command, available: login, register, exit"))
			continue
		}

		if token != "" {
			break
		}
	}

	conn, err := net.Dial("tcp", serverAddr)
	if err != nil {
		fmt.Println(errStyle.Render("connecting to backend failed: " + err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	body, _ := json.Marshal(map[string]any{"uid": uid, "token": token})
	if _, err := conn.Write(frame.EncodeFrame(frame.Verify, body)); err != nil {
		fmt.Println(errStyle.Render("sending VERIFY failed: " + err.Error()))
		os.Exit(1)
	}

	done := make(chan struct{})
	go receiveLoop(conn, done)

	fmt.Println(infoStyle.Render("connected. send messages as '<uid> <message>', or 'exit'."))
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimSpace(line)
		if line == "exit" || line == "" {
			break
		}

		parts := strings.SplitN(line, " ", 2)
		if len(parts) != 2 {
			fmt.Println(errStyle.Render("usage: <uid> <message>"))
			continue
		}
		to, err := strconv.ParseUint(parts[0], 10, 64)
		if err != nil {
			fmt.Println(errStyle.Render("uid must be a number"))
			continue
		}

		payload := frame.PutUID(to, []byte(parts[1]))
		if _, err := conn.Write(frame.EncodeFrame(frame.ChatMsg, payload)); err != nil {
			fmt.Println(errStyle.Render("send failed: " + err.Error()))
			break
		}
	}

	conn.Close()
	<-done
	fmt.Println("closing")
}

func readCreds(reader *bufio.Reader) (username, passcode string) {
	fmt.Print("username: ")
	username, _ = reader.ReadString('\n')
	fmt.Print("passcode: ")
	passcode, _ = reader.ReadString('\n')
	return strings.TrimSpace(username), strings.TrimSpace(passcode)
}

func receiveLoop(conn net.Conn, done chan struct{}) {
	defer close(done)
	for {
		f, err := frame.ReadFrame(conn)
		if err != nil {
			fmt.Println(errStyle.Render("connection closed"))
			return
		}

		switch f.Tag {
		case frame.VerifyDone:
			fmt.Println(infoStyle.Render("verified"))
		case frame.ChatMsgToClient:
			from, content, err := frame.SplitUID(f.Payload)
			if err != nil {
				continue
			}
			fmt.Println(msgStyle.Render(fmt.Sprintf("[%d] %s", from, content)))
		default:
			// DEBUG/PING echoes and anything else: ignored in the terminal view.
		}
	}
}
