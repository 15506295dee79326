package acl

import (
	"fmt"
	"net/netip"

	"github.com/yanetcore/fastpath/valuetable"
)

// Compiler is the compiled form of a rule set: a fixed chain of LPM-like
// prefix tries and dense value tables a Handler walks once per packet.
// Matching dimensions and join order mirror
// original_source/modules/acl/dataplane/dataplane.c's acl_handle_v4/v6:
// src_net, dst_net, proto, src_port, dst_port are the base lookups; net =
// join(src_net, dst_net); port = join(src_port, dst_port); transport =
// join(port, proto); result = join(net, transport). This module folds
// vlan in as one further join (result = join(networkTransport, vlan))
// since the data model classifies vlan alongside the other seven
// attributes — see DESIGN.md.
type Compiler struct {
	interner *bitsetInterner

	srcNet4, dstNet4 *classTrie
	srcNet6, dstNet6 *classTrie

	proto, srcPort, dstPort, vlan classPlan

	netTable             *valuetable.Table
	portTable            *valuetable.Table
	transportTable       *valuetable.Table
	networkTransportTable *valuetable.Table
	resultTable          *valuetable.Table

	registry *valuetable.RangeRegistry
	actions  []uint32
}

var (
	wildcard4 = netip.MustParsePrefix("0.0.0.0/0")
	wildcard6 = netip.MustParsePrefix("::/0")
)

// Compile builds a Compiler from rules, in declaration order. Declaration
// order is load-bearing: it is the order ties resolve in (the first
// matching rule whose action terminates wins), exactly as
// process_packet_actions walks the registry's action list front to back.
func Compile(rules []Rule) (*Compiler, error) {
	if len(rules) > maxRules {
		return nil, fmt.Errorf("acl: %d rules exceeds compiler limit of %d", len(rules), maxRules)
	}

	c := &Compiler{
		interner: newBitsetInterner(),
		registry: valuetable.NewRangeRegistry(),
	}
	c.srcNet4 = newClassTrie(c.interner)
	c.dstNet4 = newClassTrie(c.interner)
	c.srcNet6 = newClassTrie(c.interner)
	c.dstNet6 = newClassTrie(c.interner)

	c.actions = make([]uint32, len(rules))

	var protoRanges, srcPortRanges, dstPortRanges, vlanRanges []ruleRange

	for i, rule := range rules {
		ruleIdx := uint32(i)
		c.actions[i] = rule.Action.Encode()

		insertNets(c.srcNet4, c.srcNet6, rule.SrcNets, ruleIdx)
		insertNets(c.dstNet4, c.dstNet6, rule.DstNets, ruleIdx)

		protoRanges = append(protoRanges, rangesFor(rule.ProtoFlags, ruleIdx, 0xFFFF)...)
		srcPortRanges = append(srcPortRanges, rangesFor(rule.SrcPorts, ruleIdx, 0xFFFF)...)
		dstPortRanges = append(dstPortRanges, rangesFor(rule.DstPorts, ruleIdx, 0xFFFF)...)
		vlanRanges = append(vlanRanges, rangesFor(rule.VLANs, ruleIdx, 0xFFF)...)
	}

	c.proto = buildClasses(0xFFFF, protoRanges, c.interner)
	c.srcPort = buildClasses(0xFFFF, srcPortRanges, c.interner)
	c.dstPort = buildClasses(0xFFFF, dstPortRanges, c.interner)
	c.vlan = buildClasses(0xFFF, vlanRanges, c.interner)

	// Each join table is sized to the interner's count *at that point*:
	// since interned ids are assigned sequentially and only ever grow, the
	// current count is always a safe upper bound for every id produced so
	// far, including by dimensions built earlier in this function. Joining
	// itself interns further (new AND results may be novel bitsets), so
	// the bound is re-read fresh before each allocation rather than
	// captured once — a stale bound would let a later join produce ids
	// the next table's dense array can't index.
	n := c.interner.count()
	c.netTable = valuetable.New(n, n)
	joinAnd(c.netTable, n, n, c.interner)

	n = c.interner.count()
	c.portTable = valuetable.New(n, n)
	joinAnd(c.portTable, n, n, c.interner)

	n = c.interner.count()
	c.transportTable = valuetable.New(n, n)
	joinAnd(c.transportTable, n, n, c.interner)

	n = c.interner.count()
	c.networkTransportTable = valuetable.New(n, n)
	joinAnd(c.networkTransportTable, n, n, c.interner)

	n = c.interner.count()
	c.resultTable = valuetable.New(n, n)
	for a := uint32(0); a < n; a++ {
		for b := uint32(0); b < n; b++ {
			bs := and(c.interner.get(a), c.interner.get(b))
			actions := orderedActions(bs, c.actions)
			c.resultTable.Set(a, b, c.registry.Register(actions))
		}
	}

	return c, nil
}

// joinAnd fills a join table with the interned AND of its row/column
// bitsets, re-interning the result so later joins can treat this table's
// output as just another class id. This is compile-time-only work (O(n^2)
// in the number of interned classes, which coordinate compression keeps
// close to the rule count).
func joinAnd(t *valuetable.Table, rows, cols uint32, interner *bitsetInterner) {
	for a := uint32(0); a < rows; a++ {
		for b := uint32(0); b < cols; b++ {
			bs := and(interner.get(a), interner.get(b))
			t.Set(a, b, interner.intern(bs))
		}
	}
}

func insertNets(trie4, trie6 *classTrie, nets []netip.Prefix, rule uint32) {
	if len(nets) == 0 {
		trie4.insert(wildcard4, rule)
		trie6.insert(wildcard6, rule)
		return
	}
	for _, n := range nets {
		if n.Addr().Is4() {
			trie4.insert(n, rule)
		} else {
			trie6.insert(n, rule)
		}
	}
}

func rangesFor(ranges []Range, rule uint32, domainHi uint32) []ruleRange {
	if len(ranges) == 0 {
		return []ruleRange{{rule: rule, lo: 0, hi: domainHi}}
	}
	out := make([]ruleRange, len(ranges))
	for i, r := range ranges {
		out[i] = ruleRange{rule: rule, lo: r.Lo, hi: r.Hi}
	}
	return out
}

// Match is the full resolved classification of one packet: the ordered
// action list to evaluate, front to back.
func (c *Compiler) Match(input Input) []uint32 {
	var srcNetID, dstNetID uint32
	if input.IsIPv6 {
		srcNetID = c.srcNet6.lookup(input.SrcAddr)
		dstNetID = c.dstNet6.lookup(input.DstAddr)
	} else {
		srcNetID = c.srcNet4.lookup(input.SrcAddr)
		dstNetID = c.dstNet4.lookup(input.DstAddr)
	}
	net := c.netTable.Get(srcNetID, dstNetID)

	protoFlags := uint32(input.Proto)<<8 | uint32(input.TCPFlags)
	protoID := c.proto.classFor(protoFlags)
	srcPortID := c.srcPort.classFor(uint32(input.SrcPort))
	dstPortID := c.dstPort.classFor(uint32(input.DstPort))
	port := c.portTable.Get(srcPortID, dstPortID)

	transport := c.transportTable.Get(port, protoID)
	networkTransport := c.networkTransportTable.Get(net, transport)

	vlanID := c.vlan.classFor(uint32(input.VLAN))
	result := c.resultTable.Get(networkTransport, vlanID)

	return c.registry.Get(result)
}

// Input is the packet tuple the compiler classifies against, pulled out
// of a pipeline.Descriptor by the Handler.
type Input struct {
	IsIPv6   bool
	SrcAddr  netip.Addr
	DstAddr  netip.Addr
	Proto    uint8
	TCPFlags uint8
	SrcPort  uint16
	DstPort  uint16
	VLAN     uint16
}
