package memory

import "testing"

const sampleMaps = `00400000-00452000 r-xp 00000000 08:02 173521      /usr/games/Game.exe
00651000-00652000 r--p 00051000 08:02 173521      /usr/games/Game.exe
7f2c4c000000-7f2c4c021000 rw-p 00000000 00:00 0
7ffd3e5d7000-7ffd3e5f8000 rw-p 00000000 00:00 0    [stack]
`

func TestParseMaps(t *testing.T) {
	regions, err := ParseMaps(sampleMaps)
	if err != nil {
		t.Fatal(err)
	}

	if len(regions) != 4 {
		t.Fatalf("expected 4 regions - got %d", len(regions))
	}

	first := regions[0]
	if first.Base != 0x400000 || first.Size != 0x52000 {
		t.Fatalf("unexpected first region %s", first.Range)
	}
	if !first.Executable() || !first.Readable() {
		t.Fatalf("expected r-x - got %s", first.Perm)
	}
	if first.Path != "/usr/games/Game.exe" {
		t.Fatalf("unexpected path %q", first.Path)
	}

	if regions[1].Offset != 0x51000 {
		t.Fatalf("expected offset 0x51000 - got %x", regions[1].Offset)
	}

	if regions[2].Path != "" {
		t.Fatalf("expected anonymous mapping - got %q", regions[2].Path)
	}

	if regions[3].Path != "[stack]" {
		t.Fatalf("expected [stack] - got %q", regions[3].Path)
	}
}

func TestRegionMatchPerm(t *testing.T) {
	r := Region{Perm: "r-xp"}
	if !r.MatchPerm("r-x") || !r.MatchPerm("--x") || r.MatchPerm("rw-") {
		t.Fatalf("unexpected permission matching for %s", r.Perm)
	}
}

func TestParseMapsBadLine(t *testing.T) {
	_, err := ParseMaps("zzzz-0000 r-xp 00000000 08:02 1 /bin/x\n")
	if err == nil {
		t.Fatal("expected an error")
	}
}

func TestCovering(t *testing.T) {
	regions := []Region{
		{Range: Range{Base: 0x1000, Size: 0x1000}, Perm: "r-xp"},
		{Range: Range{Base: 0x2000, Size: 0x1000}, Perm: "rw-p"},
		{Range: Range{Base: 0x4000, Size: 0x1000}, Perm: "r--p"},
	}

	if cover := Covering(regions, 0x1800, 0x1000); len(cover) != 2 || cover[1].Perm != "rw-p" {
		t.Fatalf("expected two regions - got %v", cover)
	}
	if cover := Covering(regions, 0x4000, 0x10); len(cover) != 1 {
		t.Fatalf("expected one region - got %v", cover)
	}
	if cover := Covering(regions, 0x2800, 0x1000); cover != nil {
		t.Fatalf("expected nil across the hole - got %v", cover)
	}
	if cover := Covering(regions, 0x10, 4); cover != nil {
		t.Fatalf("expected nil below every region - got %v", cover)
	}
	if cover := Covering(regions, 0x1000, 0); cover != nil {
		t.Fatalf("expected nil for an empty range - got %v", cover)
	}
}
