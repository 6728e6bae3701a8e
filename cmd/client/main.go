// Command client is a CLI client for the order matching engine host,
// talking to cmd/server's HTTP API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/clobcore/matching-engine/internal/fp32"
	"github.com/clobcore/matching-engine/internal/quotefeed"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:   "client",
		Short: "CLI client for the order matching engine",
	}
	root.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "matching engine server URL")

	root.AddCommand(
		newSubmitCmd(),
		newCancelCmd(),
		newBookCmd(),
		newQuoteCmd(),
		newAccountCmd(),
		newStatsCmd(),
		newDemoCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSubmitCmd() *cobra.Command {
	var market, side, account, price string
	var maxBaseQty, maxQuoteQty, matchLimit uint64
	var postOnly, postAllowed bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new order",
		RunE: func(cmd *cobra.Command, args []string) error {
			if account == "" {
				account = "trader-" + uuid.NewString()[:8]
			}
			limitPrice, err := fp32.ParsePrice(price)
			if err != nil {
				return err
			}
			req := map[string]interface{}{
				"market":        market,
				"side":          side,
				"account_id":    account,
				"max_base_qty":  maxBaseQty,
				"max_quote_qty": maxQuoteQty,
				"limit_price":   limitPrice,
				"match_limit":   matchLimit,
				"post_only":     postOnly,
				"post_allowed":  postAllowed,
			}
			body, err := postJSON("/order", req)
			if err != nil {
				return err
			}
			fmt.Println("Order response:")
			printJSONBytes(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "BTC-USD", "market name")
	cmd.Flags().StringVar(&side, "side", "bid", "order side (bid/ask)")
	cmd.Flags().StringVar(&account, "account", "", "account id (random if empty)")
	cmd.Flags().Uint64Var(&maxBaseQty, "max-base-qty", 0, "maximum base quantity")
	cmd.Flags().Uint64Var(&maxQuoteQty, "max-quote-qty", 0, "maximum quote quantity")
	cmd.Flags().StringVar(&price, "price", "0", "limit price, as a decimal string (e.g. 150.25)")
	cmd.Flags().Uint64Var(&matchLimit, "match-limit", 20, "maximum number of fills to cross before posting")
	cmd.Flags().BoolVar(&postOnly, "post-only", false, "reject instead of crossing the book")
	cmd.Flags().BoolVar(&postAllowed, "post-allowed", true, "allow the remainder to rest on the book")
	return cmd
}

func newCancelCmd() *cobra.Command {
	var market string
	var orderIDHi, orderIDLo uint64

	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel an existing order",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/cancel?market=%s&order_id_hi=%d&order_id_lo=%d",
				serverURL, market, orderIDHi, orderIDLo)
			req, err := http.NewRequest(http.MethodDelete, url, nil)
			if err != nil {
				return err
			}
			body, err := do(req)
			if err != nil {
				return err
			}
			fmt.Println("Cancel response:")
			printJSONBytes(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "BTC-USD", "market name")
	cmd.Flags().Uint64Var(&orderIDHi, "order-id-hi", 0, "order id high word")
	cmd.Flags().Uint64Var(&orderIDLo, "order-id-lo", 0, "order id low word")
	return cmd
}

func newBookCmd() *cobra.Command {
	var market string
	var levels int

	cmd := &cobra.Command{
		Use:   "book",
		Short: "View order book depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			url := fmt.Sprintf("%s/book?market=%s&levels=%d", serverURL, market, levels)
			body, err := getURL(url)
			if err != nil {
				return err
			}
			var depth quotefeed.L2Depth
			if err := json.Unmarshal(body, &depth); err != nil {
				return err
			}
			printBook(depth)
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "BTC-USD", "market name")
	cmd.Flags().IntVar(&levels, "levels", 10, "number of price levels to show per side")
	return cmd
}

func newQuoteCmd() *cobra.Command {
	var market string
	cmd := &cobra.Command{
		Use:   "quote",
		Short: "View the top-of-book quote",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getURL(fmt.Sprintf("%s/quote?market=%s", serverURL, market))
			if err != nil {
				return err
			}
			fmt.Println("Quote:")
			printJSONBytes(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&market, "market", "BTC-USD", "market name")
	return cmd
}

func newAccountCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "account",
		Short: "View account balances and positions",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getURL(fmt.Sprintf("%s/account?id=%s", serverURL, accountID))
			if err != nil {
				return err
			}
			fmt.Println("Account:")
			printJSONBytes(body)
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "id", "", "account id")
	cmd.MarkFlagRequired("id")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "View settlement and write-ahead log statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := getURL(serverURL + "/stats")
			if err != nil {
				return err
			}
			fmt.Println("Stats:")
			printJSONBytes(body)
			return nil
		},
	}
}

func newDemoCmd() *cobra.Command {
	var market string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a scripted demonstration against a live server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(market)
		},
	}
	cmd.Flags().StringVar(&market, "market", "BTC-USD", "market name")
	return cmd
}

func runDemo(market string) error {
	mm := "mm-" + uuid.NewString()[:8]
	taker := "trader-" + uuid.NewString()[:8]

	fmt.Println("=== Matching engine demo ===")

	fmt.Println("\n1. Empty book:")
	if err := printBookFor(market); err != nil {
		return err
	}

	fmt.Println("\n2. Market maker posts resting bids and asks:")
	bids := []uint64{14_900, 14_850, 14_800}
	asks := []uint64{15_100, 15_150, 15_200}
	for _, px := range bids {
		if err := submitDemoOrder(market, "bid", mm, px, 100); err != nil {
			return err
		}
	}
	for _, px := range asks {
		if err := submitDemoOrder(market, "ask", mm, px, 100); err != nil {
			return err
		}
	}

	fmt.Println("\n3. Book with resting liquidity:")
	if err := printBookFor(market); err != nil {
		return err
	}

	fmt.Println("\n4. Taker crosses the book with an aggressive bid:")
	if err := submitDemoOrder(market, "bid", taker, 15_200, 150); err != nil {
		return err
	}

	time.Sleep(50 * time.Millisecond) // let the consume loop drain the fill

	fmt.Println("\n5. Book after the trade:")
	if err := printBookFor(market); err != nil {
		return err
	}

	fmt.Println("\n6. Settlement stats:")
	body, err := getURL(serverURL + "/stats")
	if err != nil {
		return err
	}
	printJSONBytes(body)

	fmt.Println("\n=== Demo complete ===")
	return nil
}

func submitDemoOrder(market, side, account string, limitPrice, baseQty uint64) error {
	req := map[string]interface{}{
		"market":        market,
		"side":          side,
		"account_id":    account,
		"max_base_qty":  baseQty,
		"max_quote_qty": ^uint64(0),
		"limit_price":   limitPrice,
		"match_limit":   20,
		"post_allowed":  true,
	}
	body, err := postJSON("/order", req)
	if err != nil {
		return err
	}
	fmt.Printf("  %s %s %d@%s -> ", account, side, baseQty, fp32.FormatPrice(limitPrice))
	printJSONBytes(body)
	return nil
}

func printBookFor(market string) error {
	body, err := getURL(fmt.Sprintf("%s/book?market=%s&levels=5", serverURL, market))
	if err != nil {
		return err
	}
	var depth quotefeed.L2Depth
	if err := json.Unmarshal(body, &depth); err != nil {
		return err
	}
	printBook(depth)
	return nil
}

func printBook(depth quotefeed.L2Depth) {
	fmt.Printf("=== %s ===\n", depth.Market)
	fmt.Println("ASKS:")
	for i := len(depth.Asks) - 1; i >= 0; i-- {
		l := depth.Asks[i]
		fmt.Printf("  %d @ %s (%d orders)\n", l.Quantity, fp32.FormatPrice(l.Price), l.Count)
	}
	fmt.Println("BIDS:")
	for _, l := range depth.Bids {
		fmt.Printf("  %d @ %s (%d orders)\n", l.Quantity, fp32.FormatPrice(l.Price), l.Count)
	}
}

func postJSON(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(serverURL+path, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func getURL(url string) ([]byte, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func do(req *http.Request) ([]byte, error) {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func printJSONBytes(data []byte) {
	var obj interface{}
	if err := json.Unmarshal(data, &obj); err != nil {
		fmt.Println(string(data))
		return
	}
	pretty, _ := json.MarshalIndent(obj, "", "  ")
	fmt.Println(string(pretty))
}
