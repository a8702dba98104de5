//go:build unix

package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Trinoooo/eggie_ae/consts"
	"github.com/Trinoooo/eggie_ae/utils"
	"github.com/chzyer/readline"
	"github.com/urfave/cli/v2"
)

func main() {
	wrapper := NewCliWrapper()
	if err := wrapper.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

var (
	flagHost = &cli.StringFlag{
		Name:    "host",
		Aliases: []string{"h"},
		Value:   "127.0.0.1",
		Usage:   "server host name.",
		EnvVars: []string{consts.Host},
	}
	flagPort = &cli.Int64Flag{
		Name:    "port",
		Aliases: []string{"p"},
		Value:   8014,
		Usage:   "server port number, 0 < port < 65535 are available.",
		Action: func(c *cli.Context, port int64) error {
			if port <= 0 || port > 65535 {
				return errors.New("invalid params")
			}
			return nil
		},
		EnvVars: []string{consts.Port},
	}
)

type CliWrapper struct {
	app *cli.App
}

func NewCliWrapper() *CliWrapper {
	wrapper := &CliWrapper{
		app: &cli.App{
			Name:    "eggie_ae_client",
			Usage:   "client for - a tiny line protocol server on a single threaded event loop",
			Version: "0.0.1.241019_alpha",
		},
	}
	wrapper.modifyDefaultHelp()
	wrapper.withFlags()
	wrapper.withAction()
	wrapper.withAuthor()
	return wrapper
}

func (wrapper *CliWrapper) Run(args []string) error {
	return wrapper.app.Run(args)
}

func (wrapper *CliWrapper) modifyDefaultHelp() {
	cli.HelpFlag = &cli.BoolFlag{
		Name: "help",
	}
}

func (wrapper *CliWrapper) withFlags() {
	wrapper.app.Flags = []cli.Flag{
		flagHost,
		flagPort,
	}
}

func (wrapper *CliWrapper) withAction() {
	wrapper.app.Action = func(ctx *cli.Context) error {
		addr := net.JoinHostPort(ctx.String("host"), strconv.FormatInt(ctx.Int64("port"), 10))
		conn, err := net.Dial("tcp", addr)
		if err != nil {
			return err
		}
		defer conn.Close()

		if err = utils.CheckAndCreateDir(fmt.Sprintf("%s/cli", consts.TmpDir)); err != nil {
			log.Println("error occur when create history dir, err: ", err)
		}
		input, err := readline.NewEx(&readline.Config{
			Prompt: fmt.Sprintf("%s> ", addr),
			AutoComplete: readline.NewPrefixCompleter(
				readline.PcItem("PING"),
				readline.PcItem("ECHO"),
				readline.PcItem("TIME"),
				readline.PcItem("INFO"),
				readline.PcItem("AFTER"),
				readline.PcItem("QUIT"),
			),
			HistoryFile: fmt.Sprintf("%s/cli/cmd_history_%s", consts.TmpDir, time.Now().Format("20060102")),
		})
		if err != nil {
			log.Fatal(err)
		}
		defer input.Close()
		input.CaptureExitSignal()
		fmt.Fprintln(input.Stdout(), utils.WrapInfo("connected to %s", addr))

		// AFTER 的回复会晚于提示符到达，单独的 goroutine 持续打印
		go printReplies(bufio.NewReader(conn), input.Stdout(), input.Close)

		for {
			str, err := input.Readline()
			if err != nil {
				if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
					return nil
				}
				log.Println(err)
				continue
			}
			if strings.EqualFold(str, "exit") {
				return nil
			}
			if strings.TrimSpace(str) == "" {
				continue
			}
			if _, err = conn.Write([]byte(str + "\r\n")); err != nil {
				return err
			}
		}
	}
}

func printReplies(r *bufio.Reader, w io.Writer, onClose func() error) {
	for {
		reply, err := readReply(r)
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(w, utils.WrapWarn("connection closed by server"))
			} else {
				fmt.Fprintln(w, utils.WrapError("read reply failed, err: %v", err))
			}
			_ = onClose()
			return
		}
		fmt.Fprintln(w, reply)
	}
}

// readReply 读取一个完整回复并格式化为可读文本
func readReply(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty reply")
	}

	switch line[0] {
	case '+':
		return line[1:], nil
	case '-':
		return utils.WrapError("%s", line[1:]), nil
	case '$':
		n, err := strconv.Atoi(line[1:])
		if err != nil || n < 0 {
			return "", fmt.Errorf("bad bulk length %q", line[1:])
		}
		buf := make([]byte, n+2)
		if _, err = io.ReadFull(r, buf); err != nil {
			return "", err
		}
		return fmt.Sprintf("\"%s\"", buf[:n]), nil
	default:
		return "", fmt.Errorf("unexpected reply %q", line)
	}
}

func (wrapper *CliWrapper) withAuthor() {
	wrapper.app.Authors = []*cli.Author{
		{
			Name:  "Trino",
			Email: "sujun.trinoooo@gmail.com",
		},
	}
}
