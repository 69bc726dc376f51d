package main

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/urfave/cli/v2"

	"github.com/research-ag/icrc1-auction/internal/auction"
	"github.com/research-ag/icrc1-auction/internal/common"
	"github.com/research-ag/icrc1-auction/internal/crypto"
	"github.com/research-ag/icrc1-auction/internal/darkbook"
	"github.com/research-ag/icrc1-auction/internal/ledger"
	"github.com/research-ag/icrc1-auction/internal/net"
	"github.com/research-ag/icrc1-auction/internal/reporter"
)

func main() {
	app := cli.NewApp()
	app.Name = "auction"
	app.Usage = "command line client for the auction HTTP API"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "server",
			Usage:   "base URL of the auction",
			Value:   "http://127.0.0.1:8080",
			EnvVars: []string{"AUCTION_SERVER"},
		},
		&cli.StringFlag{
			Name:    "principal",
			Usage:   "identity to act as",
			EnvVars: []string{"AUCTION_PRINCIPAL"},
		},
	}
	app.Commands = []*cli.Command{
		&assetsCmd, &settingsCmd, &sessionCmd,
		&depositAccountCmd, &notifyCmd, &withdrawCmd,
		orderCmd(common.Bid), orderCmd(common.Ask),
		&cancelCmd, &replaceCmd, &darkCmd, &queryCmd,
		&adminCmd, &watchCmd,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var (
	assetsCmd = cli.Command{
		Name:  "assets",
		Usage: "list registered assets",
		Action: func(c *cli.Context) error {
			return call(c, http.MethodGet, "/assets", nil)
		},
	}
	settingsCmd = cli.Command{
		Name:  "settings",
		Usage: "show auction settings",
		Action: func(c *cli.Context) error {
			return call(c, http.MethodGet, "/settings", nil)
		},
	}
	sessionCmd = cli.Command{
		Name:  "session",
		Usage: "show the next session",
		Action: func(c *cli.Context) error {
			return call(c, http.MethodGet, "/session", nil)
		},
	}
	depositAccountCmd = cli.Command{
		Name:  "deposit-account",
		Usage: "show where to send tokens before notifying",
		Action: func(c *cli.Context) error {
			return call(c, http.MethodGet, "/deposit-account", nil)
		},
	}
	notifyCmd = cli.Command{
		Name:      "notify",
		Usage:     "credit tokens sent to the deposit account",
		ArgsUsage: "<ledger>",
		Action: func(c *cli.Context) error {
			return call(c, http.MethodPost, "/deposits/notify", map[string]any{
				"ledger": c.Args().First(),
			})
		},
	}
	withdrawCmd = cli.Command{
		Name:  "withdraw",
		Usage: "withdraw credit to a ledger account",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "ledger", Required: true},
			&cli.StringFlag{Name: "to", Usage: "owner of the receiving account", Required: true},
			&cli.StringFlag{Name: "subaccount", Usage: "hex subaccount of the receiving account"},
			&cli.Uint64Flag{Name: "amount", Required: true},
		},
		Action: func(c *cli.Context) error {
			to := ledger.Account{Owner: c.String("to")}
			if err := to.Subaccount.UnmarshalText([]byte(c.String("subaccount"))); err != nil {
				return err
			}
			return call(c, http.MethodPost, "/withdrawals", map[string]any{
				"ledger": c.String("ledger"),
				"to":     to,
				"amount": c.Uint64("amount"),
			})
		},
	}
	cancelCmd = cli.Command{
		Name:      "cancel",
		Usage:     "cancel orders by id, or every order of a side with --all",
		ArgsUsage: "[id...]",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "all", Usage: "cancel every order of this side"},
		},
		Action: func(c *cli.Context) error {
			if side := c.String("all"); side != "" {
				return call(c, http.MethodPost, "/orders/cancel-all", map[string]any{"side": side})
			}
			ids, err := orderIDs(c.Args().Slice())
			if err != nil {
				return err
			}
			return call(c, http.MethodPost, "/orders/cancel", map[string]any{"ids": ids})
		},
	}
	replaceCmd = cli.Command{
		Name:      "replace",
		Usage:     "change price and volume of an order",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.Float64Flag{Name: "price", Required: true},
			&cli.Uint64Flag{Name: "volume", Required: true},
		},
		Action: func(c *cli.Context) error {
			return call(c, http.MethodPost, "/orders/"+c.Args().First()+"/replace", map[string]any{
				"price":  c.Float64("price"),
				"volume": c.Uint64("volume"),
			})
		},
	}
	darkCmd = cli.Command{
		Name:  "dark",
		Usage: "set the dark order book of an asset, e.g. \"bid:100:2.5;ask:10:3\"",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "asset", Required: true},
			&cli.StringFlag{Name: "orders", Usage: "plaintext orders, empty to delete"},
			&cli.StringFlag{Name: "key", Usage: "hex secretbox key of the auction", EnvVars: []string{"AUCTION_DECRYPTION_KEY"}},
		},
		Action: func(c *cli.Context) error {
			plaintext := []byte(c.String("orders"))
			if len(plaintext) > 0 {
				if _, err := darkbook.Parse(plaintext); err != nil {
					return err
				}
			}
			ciphertext := plaintext
			if k := c.String("key"); k != "" && len(plaintext) > 0 {
				key, err := hex.DecodeString(k)
				if err != nil {
					return err
				}
				box, err := crypto.NewSecretBox(key)
				if err != nil {
					return err
				}
				if ciphertext, err = box.Seal(plaintext); err != nil {
					return err
				}
			}
			return call(c, http.MethodPost, "/dark-books", map[string]any{
				"updates": []auction.DarkBookUpdate{{Asset: common.AssetID(c.Uint("asset")), Ciphertext: ciphertext}},
			})
		},
	}
	queryCmd = cli.Command{
		Name:  "query",
		Usage: "show credits, orders and recent history",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Value: 10, Usage: "history entries per stream"},
		},
		Action: func(c *cli.Context) error {
			w := &auction.Window{Limit: c.Int("limit")}
			return call(c, http.MethodPost, "/query", map[string]any{
				"selection": auction.Selection{
					Credits:      true,
					Bids:         true,
					Asks:         true,
					DarkBooks:    true,
					Session:      true,
					Deposits:     w,
					Transactions: w,
				},
			})
		},
	}
	adminCmd = cli.Command{
		Name:  "admin",
		Usage: "administer the auction",
		Subcommands: []*cli.Command{
			{
				Name:      "register",
				Usage:     "register a token ledger as tradable asset",
				ArgsUsage: "<ledger>",
				Flags: []cli.Flag{
					&cli.Uint64Flag{Name: "min-order-volume"},
				},
				Action: func(c *cli.Context) error {
					return call(c, http.MethodPost, "/admin/assets", map[string]any{
						"ledger":         c.Args().First(),
						"minOrderVolume": c.Uint64("min-order-volume"),
					})
				},
			},
			{
				Name:  "admins",
				Usage: "list admins",
				Action: func(c *cli.Context) error {
					return call(c, http.MethodGet, "/admin/admins", nil)
				},
			},
			{
				Name:      "add",
				Usage:     "grant admin rights",
				ArgsUsage: "<principal>",
				Action: func(c *cli.Context) error {
					return call(c, http.MethodPost, "/admin/admins", map[string]any{"principal": c.Args().First()})
				},
			},
			{
				Name:      "remove",
				Usage:     "revoke admin rights",
				ArgsUsage: "<principal>",
				Action: func(c *cli.Context) error {
					return call(c, http.MethodDelete, "/admin/admins/"+c.Args().First(), nil)
				},
			},
		},
	}
	watchCmd = cli.Command{
		Name:   "watch",
		Usage:  "print clearing results as they happen",
		Action: watch,
	}
)

func orderCmd(side common.Side) *cli.Command {
	return &cli.Command{
		Name:  side.String(),
		Usage: "place " + side.String() + "s, one per volume",
		Flags: []cli.Flag{
			&cli.UintFlag{Name: "asset", Required: true},
			&cli.Float64Flag{Name: "price", Required: true},
			&cli.StringFlag{Name: "volume", Usage: "volume or comma separated volumes, e.g. 10,20,50", Required: true},
			&cli.BoolFlag{Name: "immediate", Usage: "use the immediate book"},
		},
		Action: func(c *cli.Context) error {
			kind := common.Delayed
			if c.Bool("immediate") {
				kind = common.Immediate
			}
			var orders []auction.OrderRequest
			for _, v := range strings.Split(c.String("volume"), ",") {
				volume, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
				if err != nil {
					return fmt.Errorf("invalid volume %q: %w", v, err)
				}
				orders = append(orders, auction.OrderRequest{
					Asset:  common.AssetID(c.Uint("asset")),
					Kind:   kind,
					Volume: volume,
					Price:  c.Float64("price"),
				})
			}
			return call(c, http.MethodPost, "/"+side.String()+"s", map[string]any{"orders": orders})
		},
	}
}

func orderIDs(args []string) ([]common.OrderID, error) {
	ids := make([]common.OrderID, 0, len(args))
	for _, a := range args {
		id, err := strconv.ParseUint(a, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid order id %q: %w", a, err)
		}
		ids = append(ids, common.OrderID(id))
	}
	return ids, nil
}

// call sends body as JSON and prints the response.
func call(c *cli.Context, method, path string, body any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(c.Context, method, strings.TrimRight(c.String("server"), "/")+path, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if p := c.String("principal"); p != "" {
		req.Header.Set(net.PrincipalHeader, p)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		var out bytes.Buffer
		if json.Indent(&out, data, "", "  ") == nil {
			data = out.Bytes()
		}
		fmt.Println(string(data))
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %s", method, path, resp.Status)
	}
	return nil
}

func watch(c *cli.Context) error {
	url := "ws" + strings.TrimPrefix(strings.TrimRight(c.String("server"), "/"), "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.DialContext(c.Context, url, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", url, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s\n", url)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ev reporter.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Printf("[%s] session %d asset %d (%s): %d @ %g\n",
			ev.Type, ev.Session, ev.Asset, ev.OrderBook, ev.Volume, ev.Price)
	}
}
