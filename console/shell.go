package console

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"lobsim/engine"
)

// Usage lists the shell commands.
const Usage = `Commands:
  ADD <SIDE> <TYPE> <PRICE> <QUANTITY> - Add order
  CANCEL <ORDER_ID> - Cancel order
  MODIFY <ORDER_ID> <QUANTITY> - Modify order quantity
  BOOK [DEPTH] - Show order book
  STATS - Show statistics
  HELP - Show this list
  QUIT - Exit

Example: ADD BUY LIMIT 100.50 200
Example: ADD SELL MARKET 0 100
`

// Recorder sees every order the shell or simulation submits.
// *metrics.Collector satisfies it.
type Recorder interface {
	ObserveExecution(order engine.Order, report engine.ExecutionReport)
	ObserveCancel(found bool)
	ObserveModify(quantity int64, applied bool)
}

// Shell reads one command per line and applies it to an engine. Order ids are
// assigned sequentially from 1, one per ADD command.
type Shell struct {
	engine   *engine.MatchingEngine
	depth    int
	nextID   engine.OrderID
	recorder Recorder
	logger   *zap.Logger
}

// NewShell returns a shell printing depth levels for a bare BOOK command.
func NewShell(me *engine.MatchingEngine, depth int, recorder Recorder, logger *zap.Logger) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Shell{engine: me, depth: depth, nextID: 1, recorder: recorder, logger: logger}
}

// Run processes commands from in until QUIT or end of input.
func (s *Shell) Run(in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "\n=== INTERACTIVE MODE ===")
	fmt.Fprint(out, Usage+"\n")

	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if !s.Exec(out, fields[0], fields[1:]) {
			return nil
		}
	}
	return scanner.Err()
}

// Exec runs a single command and reports whether the shell should continue.
func (s *Shell) Exec(out io.Writer, cmd string, args []string) bool {
	switch strings.ToUpper(cmd) {
	case "QUIT", "Q", "EXIT":
		return false
	case "ADD":
		id := s.nextID
		s.nextID++
		s.add(out, id, args)
	case "CANCEL":
		s.cancel(out, args)
	case "MODIFY":
		s.modify(out, args)
	case "BOOK":
		depth := s.depth
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n <= 0 {
				fmt.Fprintf(out, "Invalid depth: %s\n", args[0])
				return true
			}
			depth = n
		}
		PrintBook(out, s.engine, depth)
	case "STATS":
		PrintStats(out, s.engine)
	case "HELP":
		fmt.Fprint(out, Usage+"\n")
	default:
		fmt.Fprintf(out, "Unknown command: %s\n", cmd)
	}
	return true
}

func (s *Shell) add(out io.Writer, id engine.OrderID, args []string) {
	if len(args) != 4 {
		fmt.Fprintln(out, "Invalid ADD command format")
		return
	}
	side, err := engine.ParseSide(args[0])
	if err != nil {
		fmt.Fprintf(out, "Invalid side: %s\n", args[0])
		return
	}
	typ, err := engine.ParseOrderType(args[1])
	if err != nil {
		fmt.Fprintf(out, "Invalid order type: %s\n", args[1])
		return
	}
	price, err := decimal.NewFromString(args[2])
	if err != nil {
		fmt.Fprintln(out, "Invalid ADD command format")
		return
	}
	qty, err := strconv.ParseInt(args[3], 10, 64)
	if err != nil {
		fmt.Fprintln(out, "Invalid ADD command format")
		return
	}

	order, err := engine.NewOrder(id, price, qty, side, typ)
	if err != nil {
		fmt.Fprintf(out, "Error creating order: %v\n", err)
		return
	}

	fmt.Fprintf(out, "Adding order: %s\n", order)
	report := s.engine.Execute(order)
	if s.recorder != nil {
		s.recorder.ObserveExecution(order, report)
	}
	printFills(out, report.Fills)
	if report.Discarded > 0 {
		fmt.Fprintf(out, "Unfilled market quantity discarded: %d\n", report.Discarded)
	}
}

func parseID(arg string) (engine.OrderID, error) {
	n, err := strconv.ParseUint(arg, 10, 64)
	return engine.OrderID(n), err
}

func (s *Shell) cancel(out io.Writer, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(out, "Invalid CANCEL command format")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Fprintln(out, "Invalid CANCEL command format")
		return
	}
	ok := s.engine.CancelOrder(id)
	if s.recorder != nil {
		s.recorder.ObserveCancel(ok)
	}
	if ok {
		fmt.Fprintf(out, "Order %d cancelled successfully\n", id)
	} else {
		fmt.Fprintf(out, "Order %d not found\n", id)
	}
}

func (s *Shell) modify(out io.Writer, args []string) {
	if len(args) != 2 {
		fmt.Fprintln(out, "Invalid MODIFY command format")
		return
	}
	id, err := parseID(args[0])
	if err != nil {
		fmt.Fprintln(out, "Invalid MODIFY command format")
		return
	}
	qty, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		fmt.Fprintln(out, "Invalid MODIFY command format")
		return
	}
	ok := s.engine.ModifyOrder(id, qty)
	if s.recorder != nil {
		s.recorder.ObserveModify(qty, ok)
	}
	if ok {
		fmt.Fprintf(out, "Order %d modified successfully\n", id)
	} else {
		fmt.Fprintf(out, "Order %d not found or invalid quantity\n", id)
	}
}
