package coffer

import "testing"

func TestValidateOffset(t *testing.T) {
	if err := ValidateOffset(0); err != nil {
		t.Fatalf("ValidateOffset(0): %v", err)
	}
	if err := ValidateOffset(-1); err == nil {
		t.Fatalf("ValidateOffset(-1) = nil, want error")
	}
}

func TestValidateBlockSize(t *testing.T) {
	if err := ValidateBlockSize(FileBlockMeta + 1); err != nil {
		t.Fatalf("ValidateBlockSize(FileBlockMeta+1): %v", err)
	}
	if err := ValidateBlockSize(FileBlockMeta); err == nil {
		t.Fatalf("ValidateBlockSize(FileBlockMeta) = nil, want error")
	}
}

func TestValidatePath(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"/", false},
		{"/a/b", false},
		{"", true},
		{"relative", true},
		{"a/b", true},
	}
	for _, c := range cases {
		err := ValidatePath(c.path)
		if c.wantErr && err == nil {
			t.Errorf("ValidatePath(%q) = nil, want error", c.path)
		}
		if !c.wantErr && err != nil {
			t.Errorf("ValidatePath(%q) = %v, want nil", c.path, err)
		}
	}
}

func TestCoreFSRejectsRelativePath(t *testing.T) {
	fs, _ := newTestContainer(t, 64)
	if err := fs.Mkdir("relative"); err == nil {
		t.Fatalf("Mkdir(relative) = nil, want error")
	}
	if err := fs.AddFile("relative.txt"); err == nil {
		t.Fatalf("AddFile(relative.txt) = nil, want error")
	}
	if _, err := fs.List("no-leading-slash"); err == nil {
		t.Fatalf("List(no-leading-slash) = nil, want error")
	}
}

func TestFormatRejectsUndersizedBlock(t *testing.T) {
	dev := newMemDevice()
	opts := FormatOptions{TotalBlocks: 8, BlockSize: FileBlockMeta, Password: []byte("x"), Sparse: true}
	if err := Format(dev, opts); err == nil {
		t.Fatalf("Format with BlockSize == FileBlockMeta = nil, want error")
	}
}
