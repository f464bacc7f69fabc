package segment

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"pgheapedit/pkg/page"
	"pgheapedit/pkg/row"
	"pgheapedit/pkg/schema"
	"pgheapedit/pkg/tuple"
)

const testPageLen = 512

func newTestPageHeader(lower, upper uint16) page.Header {
	return page.Header{
		Lower:           lower,
		Upper:           upper,
		PageSizeVersion: uint16(testPageLen) | 4,
	}
}

// buildItemBody constructs the on-disk bytes for a single tuple (no
// further alignment padding, matching how an item already resident on
// a freshly written page would look).
func buildItemBody(h tuple.Header, payload []byte) []byte {
	buf := h.EncodeTo(int(h.Hoff))
	return append(buf, payload...)
}

// singleItemSegment builds a one-page, one-item segment from a schema
// and CSV values. The tuple sits at the end of the page, with pd_upper
// at its 8-byte-aligned start.
func singleItemSegment(t *testing.T, sch *schema.Schema, values []string) *Segment {
	t.Helper()

	payload, h, err := row.Serialize(values, tuple.Header{}, sch)
	if err != nil {
		t.Fatalf("row.Serialize: %v", err)
	}
	body := buildItemBody(h, payload)

	lower := uint16(page.HeaderSize + 4)
	upper := uint16(testPageLen - align8(len(body)))

	pg := page.Page{
		Header: newTestPageHeader(lower, upper),
		Length: testPageLen,
		Items: []page.Item{
			{LP: page.LinePointer{Off: uint32(upper), Flags: page.LPNormal, Len: uint32(len(body))}, Body: body},
		},
	}

	return &Segment{Pages: []page.Page{pg}}
}

func TestOpenSaveRoundTripNoMutation(t *testing.T) {
	sch, err := schema.Parse("id,int4,4,i")
	if err != nil {
		t.Fatal(err)
	}
	seg := singleItemSegment(t, sch, []string{"7"})

	dir := t.TempDir()
	src := filepath.Join(dir, "seg.dat")

	encoded, err := seg.Pages[0].Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if err := os.WriteFile(src, encoded, 0o644); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(reopened.Pages) != 1 {
		t.Fatalf("len(Pages) = %d, want 1", len(reopened.Pages))
	}

	dst := filepath.Join(dir, "seg.dat.new")
	if err := reopened.SaveTo(dst); err != nil {
		t.Fatalf("SaveTo: %v", err)
	}

	got, err := os.ReadFile(dst)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, encoded) {
		t.Fatalf("round trip not bit-exact: got %d bytes, want %d bytes", len(got), len(encoded))
	}
}

func TestRawRoundTripExactBytes(t *testing.T) {
	payload := []byte("\x42\x00\x00\x00\x0cTest1\x00\x00\x00\x43\x00\x00\x00\x0bTest")
	h := tuple.Header{Hoff: tuple.FixedHeaderSize + 1}
	body := buildItemBody(h, payload)

	lower := uint16(page.HeaderSize + 4)
	upper := uint16(testPageLen - len(body))
	pg := page.Page{
		Header: newTestPageHeader(lower, upper),
		Length: testPageLen,
		Items: []page.Item{
			{LP: page.LinePointer{Off: uint32(upper), Flags: page.LPNormal, Len: uint32(len(body))}, Body: body},
		},
	}
	seg := &Segment{Pages: []page.Page{pg}}

	_, gotPayload, err := seg.DecodeItem(0, 0)
	if err != nil {
		t.Fatalf("DecodeItem: %v", err)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatalf("payload mismatch: got %q, want %q", gotPayload, payload)
	}
}

func TestInlineUpdatePreservesGeometry(t *testing.T) {
	sch, err := schema.Parse("name,varchar,-1,i")
	if err != nil {
		t.Fatal(err)
	}
	seg := singleItemSegment(t, sch, []string{"HelloWorld"})

	beforeLower := seg.Pages[0].Header.Lower
	beforeUpper := seg.Pages[0].Header.Upper

	if err := seg.UpdateItemTyped(0, 0, sch, []string{"Hi"}); err != nil {
		t.Fatalf("UpdateItemTyped: %v", err)
	}

	if seg.Pages[0].Header.Lower != beforeLower {
		t.Fatalf("pd_lower changed on inline update: got %d, want %d", seg.Pages[0].Header.Lower, beforeLower)
	}
	if seg.Pages[0].Header.Upper != beforeUpper {
		t.Fatalf("pd_upper changed on inline update: got %d, want %d", seg.Pages[0].Header.Upper, beforeUpper)
	}

	fields, err := seg.ReadFields(0, 0, sch)
	if err != nil {
		t.Fatalf("ReadFields: %v", err)
	}
	if fields[0].String() != "Hi" {
		t.Fatalf("field = %q, want Hi", fields[0].String())
	}
}

func TestNewItemUpdateGrowsPdLowerAndMarksOldDead(t *testing.T) {
	sch, err := schema.Parse("name,varchar,-1,i")
	if err != nil {
		t.Fatal(err)
	}
	seg := singleItemSegment(t, sch, []string{"Hi"})

	beforeLower := seg.Pages[0].Header.Lower
	beforeUpper := seg.Pages[0].Header.Upper
	beforeXmin := func() uint32 {
		h, _, err := seg.DecodeItem(0, 0)
		if err != nil {
			t.Fatal(err)
		}
		return h.Xmin
	}()

	longValue := "super loooooooooooooong string that will not fit inline"
	if err := seg.UpdateItemTyped(0, 0, sch, []string{longValue}); err != nil {
		t.Fatalf("UpdateItemTyped: %v", err)
	}

	if len(seg.Pages) != 1 {
		t.Fatalf("expected update to fit in the same page, got %d pages", len(seg.Pages))
	}
	if seg.Pages[0].Header.Lower != beforeLower+4 {
		t.Fatalf("pd_lower = %d, want %d", seg.Pages[0].Header.Lower, beforeLower+4)
	}
	if seg.Pages[0].Header.Upper >= beforeUpper {
		t.Fatalf("pd_upper did not shrink: got %d, want < %d", seg.Pages[0].Header.Upper, beforeUpper)
	}

	items := seg.Pages[0].Items
	if len(items) != 2 {
		t.Fatalf("len(items) = %d, want 2", len(items))
	}

	oldLP := items[0].LP
	if oldLP.Flags != page.LPDead {
		t.Fatalf("old line pointer flags = %v, want LPDead", oldLP.Flags)
	}

	newLP := items[1].LP
	if newLP.Off != uint32(seg.Pages[0].Header.Upper) {
		t.Fatalf("new slot lp_off = %d, want pd_upper = %d", newLP.Off, seg.Pages[0].Header.Upper)
	}

	oldHeader, err := tuple.Decode(items[0].Body)
	if err != nil {
		t.Fatal(err)
	}
	newHeader, err := tuple.Decode(items[1].Body)
	if err != nil {
		t.Fatal(err)
	}

	if oldHeader.Xmin != beforeXmin-1 {
		t.Fatalf("old xmin = %d, want %d", oldHeader.Xmin, beforeXmin-1)
	}
	if oldHeader.Xmax != beforeXmin {
		t.Fatalf("old xmax = %d, want %d", oldHeader.Xmax, beforeXmin)
	}
	if !oldHeader.Infomask2.Has(tuple.HeapHotUpdated) {
		t.Fatalf("expected HEAP_HOT_UPDATED set on old tuple")
	}
	if oldHeader.Infomask.Has(tuple.HeapUpdated) || oldHeader.Infomask.Has(tuple.HeapXmaxInvalid) {
		t.Fatalf("old tuple still carries HEAP_UPDATED/HEAP_XMAX_INVALID: %016b", oldHeader.Infomask)
	}

	if !newHeader.Infomask.Has(tuple.HeapXmaxInvalid) || !newHeader.Infomask.Has(tuple.HeapUpdated) {
		t.Fatalf("new tuple missing HEAP_XMAX_INVALID|HEAP_UPDATED: %016b", newHeader.Infomask)
	}
	if newHeader.Xmin != oldHeader.Xmax {
		t.Fatalf("new xmin = %d, want old xmax = %d", newHeader.Xmin, oldHeader.Xmax)
	}
	if newHeader.Xmax != 0 {
		t.Fatalf("new xmax = %d, want 0", newHeader.Xmax)
	}

	fields, err := row.Deserialize(items[1].Body[newHeader.Hoff:], newHeader, sch)
	if err != nil {
		t.Fatal(err)
	}
	if fields[0].String() != longValue {
		t.Fatalf("new tuple value = %q, want %q", fields[0].String(), longValue)
	}
}

func TestNewItemUpdateForcesNewPage(t *testing.T) {
	sch, err := schema.Parse("name,varchar,-1,i")
	if err != nil {
		t.Fatal(err)
	}
	seg := singleItemSegment(t, sch, []string{"Hi"})

	// Starve the page's free space by pulling pd_lower up to pd_upper,
	// leaving no room for a new line pointer or tuple bytes.
	seg.Pages[0].Header.Lower = seg.Pages[0].Header.Upper

	longValue := "this value is long enough to require a brand new page entirely"
	if err := seg.UpdateItemTyped(0, 0, sch, []string{longValue}); err != nil {
		t.Fatalf("UpdateItemTyped: %v", err)
	}

	if len(seg.Pages) != 2 {
		t.Fatalf("len(Pages) = %d, want 2", len(seg.Pages))
	}

	oldPage := seg.Pages[0]
	if len(oldPage.Items) != 1 || oldPage.Items[0].LP.Flags != page.LPDead {
		t.Fatalf("original page's item not marked dead: %+v", oldPage.Items)
	}

	newPage := seg.Pages[1]
	if len(newPage.Items) != 1 {
		t.Fatalf("new page should have exactly one item, got %d", len(newPage.Items))
	}
	if newPage.Header.Lower != page.HeaderSize+4 {
		t.Fatalf("new page pd_lower = %d, want %d", newPage.Header.Lower, page.HeaderSize+4)
	}

	h, err := tuple.Decode(newPage.Items[0].Body)
	if err != nil {
		t.Fatal(err)
	}
	fields, err := row.Deserialize(newPage.Items[0].Body[h.Hoff:], h, sch)
	if err != nil {
		t.Fatal(err)
	}
	if fields[0].String() != longValue {
		t.Fatalf("new page tuple value = %q, want %q", fields[0].String(), longValue)
	}
}

func TestUpdateItemRawPreservesHeader(t *testing.T) {
	sch, err := schema.Parse("id,int4,4,i")
	if err != nil {
		t.Fatal(err)
	}
	seg := singleItemSegment(t, sch, []string{"99"})

	beforeHeader, _, err := seg.DecodeItem(0, 0)
	if err != nil {
		t.Fatal(err)
	}

	newPayload := []byte{0x01, 0x02, 0x03, 0x04}
	if err := seg.UpdateItemRaw(0, 0, newPayload); err != nil {
		t.Fatalf("UpdateItemRaw: %v", err)
	}

	afterHeader, afterPayload, err := seg.DecodeItem(0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if afterHeader.Hoff != beforeHeader.Hoff {
		t.Fatalf("t_hoff changed: got %d, want %d", afterHeader.Hoff, beforeHeader.Hoff)
	}
	if !bytes.Equal(afterPayload, newPayload) {
		t.Fatalf("payload = %x, want %x", afterPayload, newPayload)
	}
}

func TestNoSuchPageAndItem(t *testing.T) {
	sch, err := schema.Parse("id,int4,4,i")
	if err != nil {
		t.Fatal(err)
	}
	seg := singleItemSegment(t, sch, []string{"1"})

	if _, err := seg.ListPage(5); err != ErrNoSuchPage {
		t.Fatalf("got %v, want ErrNoSuchPage", err)
	}
	if _, err := seg.ReadItem(0, 5); err != ErrNoSuchItem {
		t.Fatalf("got %v, want ErrNoSuchItem", err)
	}
}
