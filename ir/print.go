package ir

import (
	"fmt"
	"strings"
)

// String returns a compact textual dump of the function, for tests and
// debugging.
func (fn *Function) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "fn %s {\n", fn.Name)
	printNodes(&sb, fn.Body.Nodes, 1)
	sb.WriteString("}\n")
	return sb.String()
}

func printNodes(sb *strings.Builder, nodes []CFNode, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, n := range nodes {
		switch n := n.(type) {
		case *Block:
			fmt.Fprintf(sb, "%sblock b%d:\n", indent, n.Index)
			for in := n.First(); in != nil; in = in.Next() {
				fmt.Fprintf(sb, "%s  %s\n", indent, instrString(in))
			}
		case *If:
			fmt.Fprintf(sb, "%sif %s {\n", indent, srcString(n.Condition))
			printNodes(sb, n.Then, depth+1)
			fmt.Fprintf(sb, "%s} else {\n", indent)
			printNodes(sb, n.Else, depth+1)
			fmt.Fprintf(sb, "%s}\n", indent)
		default:
			panic(fmt.Sprintf("unknown CF node: %T", n))
		}
	}
}

func instrString(in Instr) string {
	switch in := in.(type) {
	case *Alu:
		srcs := make([]string, len(in.Srcs))
		for i, s := range in.Srcs {
			srcs[i] = aluSrcString(s, componentsRead(in, i))
		}
		return fmt.Sprintf("%s = %s %s", aluDestString(in.Dest), in.Op, strings.Join(srcs, ", "))
	case *LoadConst:
		vals := make([]string, in.Def.NumComponents)
		for i := range vals {
			vals[i] = fmt.Sprintf("0x%x", in.Values[i])
		}
		return fmt.Sprintf("v%d = load_const (%s)", in.Def.Index, strings.Join(vals, ", "))
	case *Phi:
		entries := make([]string, len(in.Entries))
		for i, e := range in.Entries {
			entries[i] = fmt.Sprintf("b%d: %s", e.Pred.Index, srcString(e.Src))
		}
		return fmt.Sprintf("v%d = phi %s", in.Def.Index, strings.Join(entries, ", "))
	default:
		panic(fmt.Sprintf("unknown instruction: %T", in))
	}
}

// componentsRead returns how many components of source i the
// instruction consumes, so the printed swizzle is trimmed to what
// matters.
func componentsRead(a *Alu, i int) uint8 {
	info := a.Op.Info()
	if a.Op.IsVec() {
		return 1
	}
	if info.Reduction {
		return a.Srcs[i].Src.NumComponents()
	}
	if a.Dest.Dest.SSA != nil {
		return a.Dest.Dest.SSA.NumComponents
	}
	return 4 // register dest: swizzle is indexed by destination component
}

const swizzleNames = "xyzw"

func aluSrcString(s AluSrc, n uint8) string {
	swiz := make([]byte, 0, 4)
	identity := true
	for c := uint8(0); c < n; c++ {
		swiz = append(swiz, swizzleNames[s.Swizzle[c]])
		if s.Swizzle[c] != c {
			identity = false
		}
	}
	if identity {
		return srcString(s.Src)
	}
	return fmt.Sprintf("%s.%s", srcString(s.Src), swiz)
}

func srcString(s Src) string {
	if s.SSA != nil {
		return fmt.Sprintf("v%d", s.SSA.Index)
	}
	return regRefString(s.Reg)
}

func regRefString(r *RegRef) string {
	str := fmt.Sprintf("r%d", r.Reg.Index)
	if r.BaseOffset != 0 {
		str += fmt.Sprintf("[%d]", r.BaseOffset)
	}
	if r.Indirect != nil {
		str += fmt.Sprintf("[%s]", srcString(*r.Indirect))
	}
	return str
}

func aluDestString(d AluDest) string {
	if d.Dest.SSA != nil {
		return fmt.Sprintf("v%d", d.Dest.SSA.Index)
	}
	mask := make([]byte, 0, 4)
	for c := uint8(0); c < 4; c++ {
		if d.WriteMask&(1<<c) != 0 {
			mask = append(mask, swizzleNames[c])
		}
	}
	return fmt.Sprintf("%s.%s", regRefString(d.Dest.Reg), mask)
}
