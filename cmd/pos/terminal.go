package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/retail-pos/internal/domain/checkout"
	"github.com/xenking/retail-pos/internal/domain/coupon"
	"github.com/xenking/retail-pos/internal/session"
)

const helpText = `commands:
  login <username> <password>
  logout
  add <product-id> [qty]       add a fresh product snapshot to the cart
  qty <product-id> <qty>       set a line quantity, 0 removes it
  rm <product-id>
  cart                         list lines and totals
  begin                        start checkout
  quote [client=<id>] [discount=<amount>] [coupon=<code>] [tier] [notes=<text>]
  pay <method> <amount>        confirm; repeat after a retryable failure
  cancel                       abandon the attempt and keep the cart
  new                          start the next sale after a confirmation
  grant <user-id> <permission> <minutes>
  refresh                      reload the principal and its grants
  state
  help
  quit`

var errQuit = errors.New("quit")

// Terminal interprets one command per line against a session.
type Terminal struct {
	s   *session.Session
	out io.Writer
}

// NewTerminal creates a Terminal writing to out.
func NewTerminal(s *session.Session, out io.Writer) *Terminal {
	return &Terminal{s: s, out: out}
}

// Run reads commands until EOF, "quit" or ctx is done.
func (t *Terminal) Run(ctx context.Context, in io.Reader) error {
	sc := bufio.NewScanner(in)
	t.prompt()
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return nil
		}
		err := t.Exec(ctx, sc.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			t.printErr(err)
		}
		t.prompt()
	}
	return sc.Err()
}

func (t *Terminal) prompt() {
	name := "-"
	if p := t.s.Principal(); p != nil {
		name = p.Name
	}
	fmt.Fprintf(t.out, "[%s %s]> ", name, t.s.Checkout().State())
}

func (t *Terminal) printErr(err error) {
	fmt.Fprintln(t.out, "error:", err)
	var invalid *coupon.InvalidCouponError
	switch {
	case checkout.IsRetryable(err):
		fmt.Fprintln(t.out, "the sale may not have been recorded; run pay again to retry safely")
	case errors.As(err, &invalid):
		for _, issue := range invalid.Issues {
			fmt.Fprintln(t.out, "  -", issue)
		}
	}
}

// Exec runs one command line.
func (t *Terminal) Exec(ctx context.Context, line string) error {
	args := strings.Fields(line)
	if len(args) == 0 {
		return nil
	}
	cmd, args := strings.ToLower(args[0]), args[1:]
	o := t.s.Checkout()
	sctx := t.s.Context(ctx)

	switch cmd {
	case "help", "?":
		fmt.Fprintln(t.out, helpText)
	case "quit", "exit":
		return errQuit
	case "login":
		if len(args) != 2 {
			return usage("login <username> <password>")
		}
		p, err := t.s.Login(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "logged in as %s (%s)\n", p.Name, p.Role)
	case "logout":
		if err := t.s.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(t.out, "logged out")
	case "refresh":
		return t.s.Refresh(ctx)
	case "add":
		if len(args) < 1 || len(args) > 2 {
			return usage("add <product-id> [qty]")
		}
		qty := 1
		if len(args) == 2 {
			n, err := strconv.Atoi(args[1])
			if err != nil {
				return usage("add <product-id> [qty]")
			}
			qty = n
		}
		if err := t.s.AddProduct(ctx, args[0], qty); err != nil {
			return err
		}
		t.printCart(o)
	case "qty":
		if len(args) != 2 {
			return usage("qty <product-id> <qty>")
		}
		n, err := strconv.Atoi(args[1])
		if err != nil {
			return usage("qty <product-id> <qty>")
		}
		if err := o.SetQuantity(sctx, args[0], n); err != nil {
			return err
		}
		t.printCart(o)
	case "rm":
		if len(args) != 1 {
			return usage("rm <product-id>")
		}
		if err := o.RemoveItem(sctx, args[0]); err != nil {
			return err
		}
		t.printCart(o)
	case "cart":
		t.printCart(o)
	case "state":
		fmt.Fprintln(t.out, o.State())
		if err := o.LastRejection(); err != nil {
			fmt.Fprintln(t.out, "last rejection:", err)
		}
	case "begin":
		if err := o.Begin(sctx); err != nil {
			return err
		}
		t.printCart(o)
	case "quote":
		adj, err := parseAdjustments(args)
		if err != nil {
			return err
		}
		q, err := o.Quote(sctx, adj)
		if err != nil {
			return err
		}
		t.printQuote(q)
	case "pay":
		if len(args) != 2 {
			return usage("pay <method> <amount>")
		}
		res, err := o.Confirm(sctx, checkout.Payment{Method: args[0], Tendered: args[1]})
		if err != nil {
			return err
		}
		t.printResult(res)
	case "cancel":
		if err := o.Cancel(sctx); err != nil {
			return err
		}
		fmt.Fprintln(t.out, "checkout canceled")
	case "new":
		if err := o.NewSale(sctx); err != nil {
			return err
		}
		fmt.Fprintln(t.out, "ready for the next sale")
	case "grant":
		if len(args) != 3 {
			return usage("grant <user-id> <permission> <minutes>")
		}
		minutes, err := strconv.Atoi(args[2])
		if err != nil {
			return usage("grant <user-id> <permission> <minutes>")
		}
		g, err := t.s.Grant(ctx, args[0], args[1], time.Duration(minutes)*time.Minute)
		if err != nil {
			return err
		}
		fmt.Fprintf(t.out, "granted %s to %s until %s\n", g.Permission, g.PrincipalID, g.ExpiresAt.Local().Format(time.Kitchen))
	default:
		return errors.Errorf("unknown command %q, try help", cmd)
	}
	return nil
}

func usage(s string) error { return errors.Errorf("usage: %s", s) }

// parseAdjustments reads key=value pairs. "notes=" takes the rest of the line.
func parseAdjustments(args []string) (checkout.Adjustments, error) {
	var adj checkout.Adjustments
	for i, arg := range args {
		key, value, _ := strings.Cut(arg, "=")
		switch strings.ToLower(key) {
		case "client":
			adj.ClientID = value
		case "discount":
			adj.ManualDiscount = value
		case "coupon":
			adj.CouponCode = value
		case "tier":
			adj.UseTierDiscount = true
		case "notes":
			adj.Notes = strings.Join(append([]string{value}, args[i+1:]...), " ")
			return adj, nil
		default:
			return adj, errors.Errorf("unknown quote option %q", key)
		}
	}
	return adj, nil
}

func (t *Terminal) printCart(o *checkout.Orchestrator) {
	items := o.Items()
	if len(items) == 0 {
		fmt.Fprintln(t.out, "cart is empty")
		return
	}
	tw := tabwriter.NewWriter(t.out, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "product\tname\tqty\tprice\tline\t")
	for _, it := range items {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t\n",
			it.ProductID, it.Name, it.Quantity, it.UnitPrice.StringFixed(2), it.Subtotal().StringFixed(2))
	}
	sum := o.Summary()
	fmt.Fprintf(tw, "\t\t%d\tsubtotal\t%s\t\n", sum.ItemCount, sum.Subtotal.StringFixed(2))
	fmt.Fprintf(tw, "\t\t\ttax\t%s\t\n", sum.Tax.StringFixed(2))
	fmt.Fprintf(tw, "\t\t\ttotal\t%s\t\n", sum.Total.StringFixed(2))
	_ = tw.Flush()
}

func (t *Terminal) printQuote(q checkout.Quote) {
	fmt.Fprintf(t.out, "subtotal %s\n", q.Subtotal.StringFixed(2))
	fmt.Fprintf(t.out, "discount %s (%s)\n", q.Discount.StringFixed(2), q.Source)
	fmt.Fprintf(t.out, "tax      %s\n", q.Tax.StringFixed(2))
	fmt.Fprintf(t.out, "total    %s\n", q.Total.StringFixed(2))
	if q.Client != nil {
		fmt.Fprintf(t.out, "client   %s, %d points, %s\n", q.Client.Name, q.Client.Points, q.Client.Tier().Name)
	}
	for _, issue := range q.Issues {
		fmt.Fprintln(t.out, "  -", issue)
	}
}

func (t *Terminal) printResult(res *checkout.Result) {
	if res.Receipt != nil && res.Receipt.Sale != nil {
		fmt.Fprintf(t.out, "sale %s recorded, total %s\n", res.Receipt.Sale.ID, res.Receipt.Sale.Total.StringFixed(2))
	}
	fmt.Fprintf(t.out, "change %s\n", res.Change.StringFixed(2))
	if res.PointsEarned > 0 {
		fmt.Fprintf(t.out, "points earned %d\n", res.PointsEarned)
	}
	if res.AccrualErr != nil {
		fmt.Fprintln(t.out, "warning: points were not credited:", res.AccrualErr)
	}
}
