package ledger

// Stack is a concrete amount of one signature.
// Amount may exceed Sig.MaxStack when a stack describes a ledger line.
type Stack struct {
	Sig    Signature
	Amount int64
}

// NewStack creates a stack.
func NewStack(sig Signature, amount int64) Stack {
	return Stack{Sig: sig, Amount: amount}
}

// Split breaks a consolidated amount into stacks no larger than MaxStack.
// Overflow spills into additional stacks of the same signature.
func Split(sig Signature, amount int64) []Stack {
	if amount <= 0 {
		return nil
	}
	maxStack := int64(sig.MaxStack)
	if maxStack <= 0 {
		maxStack = DefaultMaxStack
	}
	out := make([]Stack, 0, (amount+maxStack-1)/maxStack)
	for amount > 0 {
		n := min(amount, maxStack)
		out = append(out, Stack{Sig: sig, Amount: n})
		amount -= n
	}
	return out
}

// Consolidate sums stacks by signature, skipping non-positive amounts.
func Consolidate(items []Stack) map[Signature]int64 {
	out := make(map[Signature]int64, len(items))
	for _, it := range items {
		if it.Amount <= 0 {
			continue
		}
		out[it.Sig] += it.Amount
	}
	return out
}

// TotalAmount returns the sum of all stack amounts.
func TotalAmount(items []Stack) int64 {
	var total int64
	for _, it := range items {
		if it.Amount > 0 {
			total += it.Amount
		}
	}
	return total
}

// SlotsOf computes sum(ceil(q / maxStack)) for a consolidated map.
// Pure function, O(len(m)).
func SlotsOf(m map[Signature]int64) int {
	slots := 0
	for sig, q := range m {
		slots += sig.SlotsFor(q)
	}
	return slots
}
