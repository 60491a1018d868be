package bpkg

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/smartystreets/assertions/should"
	"github.com/smartystreets/gunit"
)

func TestPackageCodecFixture(t *testing.T) {
	gunit.Run(new(PackageCodecFixture), t)
}

type PackageCodecFixture struct {
	*gunit.Fixture
	dir  string
	path string
}

func (this *PackageCodecFixture) Setup() {
	dir, err := os.MkdirTemp("", "bpkg-test-")
	this.So(err, should.BeNil)
	this.dir = dir
	this.path = filepath.Join(dir, "out", "bootstrap.pkg")
}

func (this *PackageCodecFixture) Teardown() {
	os.RemoveAll(this.dir)
}

func (this *PackageCodecFixture) TestEntriesAreWrittenInOrder() {
	err := Write(this.path, []Entry{
		BytesEntry(AgentEntry, []byte("agent")),
		BytesEntry(StartBundleEntry, []byte(AgentEntry)),
		BytesEntry(RuntimeZipEntry, []byte("zip")),
		BytesEntry(RuntimeTarGzEntry, []byte("targz")),
		BytesEntry(AddonEntry(0), []byte("addon-0")),
	})
	this.So(err, should.BeNil)

	r, err := Open(this.path)
	this.So(err, should.BeNil)
	defer r.Close()

	this.So(r.Names(), should.Resemble, []string{
		AgentEntry, StartBundleEntry, RuntimeZipEntry, RuntimeTarGzEntry, "stamina.addon.0.esa",
	})
	content, ok, err := r.ReadEntry(StartBundleEntry)
	this.So(err, should.BeNil)
	this.So(ok, should.BeTrue)
	this.So(string(content), should.Equal, AgentEntry)
}

func (this *PackageCodecFixture) TestLargeEntryIsStreamed() {
	source := filepath.Join(this.dir, "large.bin")
	payload := make([]byte, 3*copyBufferSize+17)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	this.So(os.WriteFile(source, payload, 0644), should.BeNil)

	this.So(Write(this.path, []Entry{FileEntry(RuntimeZipEntry, source)}), should.BeNil)

	r, err := Open(this.path)
	this.So(err, should.BeNil)
	defer r.Close()
	rc, ok, err := r.OpenEntry(RuntimeZipEntry)
	this.So(err, should.BeNil)
	this.So(ok, should.BeTrue)
	defer rc.Close()
	read, err := io.ReadAll(rc)
	this.So(err, should.BeNil)
	this.So(read, should.Resemble, payload)
}

func (this *PackageCodecFixture) TestUnknownEntryIsAbsent() {
	this.So(Write(this.path, []Entry{BytesEntry(AgentEntry, []byte("a"))}), should.BeNil)

	r, err := Open(this.path)
	this.So(err, should.BeNil)
	defer r.Close()

	content, ok, err := r.ReadEntry("missing")
	this.So(err, should.BeNil)
	this.So(ok, should.BeFalse)
	this.So(content, should.BeNil)
	this.So(r.Has(AgentEntry), should.BeTrue)
}

func (this *PackageCodecFixture) TestDuplicateEntryIsRejected() {
	err := Write(this.path, []Entry{
		BytesEntry(AgentEntry, []byte("a")),
		BytesEntry(AgentEntry, []byte("b")),
	})

	this.So(errors.Is(err, ErrDuplicateEntry), should.BeTrue)
	_, statErr := os.Stat(this.path)
	this.So(os.IsNotExist(statErr), should.BeTrue)
}

func (this *PackageCodecFixture) TestFailedSourceLeavesNoPackage() {
	err := Write(this.path, []Entry{
		BytesEntry(AgentEntry, []byte("a")),
		FileEntry(RuntimeZipEntry, filepath.Join(this.dir, "does-not-exist.zip")),
	})

	this.So(err, should.NotBeNil)
	_, statErr := os.Stat(this.path)
	this.So(os.IsNotExist(statErr), should.BeTrue)

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(this.path), ".bootstrap-*.tmp"))
	this.So(leftovers, should.BeEmpty)
}

func (this *PackageCodecFixture) TestDigestIsStable() {
	this.So(Write(this.path, []Entry{BytesEntry(AgentEntry, []byte("a"))}), should.BeNil)

	first, err := Digest(this.path)
	this.So(err, should.BeNil)
	second, err := Digest(this.path)
	this.So(err, should.BeNil)

	this.So(first, should.Equal, second)
	this.So(len(first), should.Equal, 64)
}

func (this *PackageCodecFixture) writeDeclaredSize(name string, data []byte, declared uint64) {
	this.So(os.MkdirAll(filepath.Dir(this.path), 0755), should.BeNil)
	f, err := os.Create(this.path)
	this.So(err, should.BeNil)
	defer f.Close()

	zw := zip.NewWriter(f)
	w, err := zw.CreateRaw(&zip.FileHeader{
		Name:               name,
		Method:             zip.Store,
		CompressedSize64:   uint64(len(data)),
		UncompressedSize64: declared,
	})
	this.So(err, should.BeNil)
	_, err = w.Write(data)
	this.So(err, should.BeNil)
	this.So(zw.Close(), should.BeNil)
}

func (this *PackageCodecFixture) readEntry(name string) error {
	r, err := Open(this.path)
	if err != nil {
		return err
	}
	defer r.Close()
	_, _, err = r.ReadEntry(name)
	return err
}

func (this *PackageCodecFixture) TestHugeDeclaredSizeIsAnErrorNotAPanic() {
	this.writeDeclaredSize(StartBundleEntry, []byte(AgentEntry), 1<<63)

	this.So(this.readEntry(StartBundleEntry), should.NotBeNil)
}

func (this *PackageCodecFixture) TestEntryLargerThanDeclaredSizeFails() {
	this.writeDeclaredSize(StartBundleEntry, []byte(AgentEntry), 3)

	this.So(this.readEntry(StartBundleEntry), should.NotBeNil)
}

func TestAddonOrdinal(t *testing.T) {
	cases := []struct {
		name string
		n    int
		ok   bool
	}{
		{AddonEntry(0), 0, true},
		{AddonEntry(12), 12, true},
		{"stamina.addon.x.esa", 0, false},
		{"stamina.addon.01.esa", 0, false},
		{"stamina.addon.-1.esa", 0, false},
		{RuntimeZipEntry, 0, false},
	}
	for _, c := range cases {
		n, ok := AddonOrdinal(c.name)
		if n != c.n || ok != c.ok {
			t.Errorf("AddonOrdinal(%q): got (%d, %v), want (%d, %v)", c.name, n, ok, c.n, c.ok)
		}
	}
}
