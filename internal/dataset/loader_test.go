package dataset

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"

	"github.com/tablechat/tablechat/internal/storage"
)

type clientRow struct {
	ClientID string `parquet:"client_id"`
	Name     string `parquet:"name"`
	Country  string `parquet:"country"`
}

type invoiceRow struct {
	InvoiceID   string  `parquet:"invoice_id"`
	ClientID    string  `parquet:"client_id"`
	InvoiceDate int32   `parquet:"invoice_date,date"`
	FXRate      float64 `parquet:"fx_rate_to_usd"`
}

type lineItemRow struct {
	LineID    string  `parquet:"line_id"`
	InvoiceID string  `parquet:"invoice_id"`
	Quantity  int32   `parquet:"quantity"`
	UnitPrice float64 `parquet:"unit_price"`
}

func TestLoaderReadsParquetDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFixtures(t, func(name string, payload []byte) {
		if err := os.WriteFile(filepath.Join(dir, name+".parquet"), payload, 0o600); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
	})

	loader := &Loader{Source: DirSource{Dir: dir}}
	store, err := loader.Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	invoices, ok := store.Table(TableInvoices)
	if !ok {
		t.Fatal("invoices table missing")
	}
	if len(invoices.Rows) != 2 {
		t.Fatalf("invoice rows = %d", len(invoices.Rows))
	}
	dateIndex := invoices.ColumnIndex("invoice_date")
	if invoices.Columns[dateIndex].Type != TypeDate {
		t.Fatalf("invoice_date type = %q", invoices.Columns[dateIndex].Type)
	}
	got, ok := invoices.Rows[0][dateIndex].(time.Time)
	if !ok {
		t.Fatalf("invoice_date value = %#v", invoices.Rows[0][dateIndex])
	}
	if got.Format(time.DateOnly) != "2024-01-15" {
		t.Fatalf("invoice_date = %s", got)
	}

	lineItems, _ := store.Table(TableLineItems)
	quantityIndex := lineItems.ColumnIndex("quantity")
	if lineItems.Columns[quantityIndex].Type != TypeBigInt {
		t.Fatalf("quantity type = %q", lineItems.Columns[quantityIndex].Type)
	}
	if lineItems.Rows[0][quantityIndex] != int64(3) {
		t.Fatalf("quantity = %#v", lineItems.Rows[0][quantityIndex])
	}
}

func TestLoaderReadsThroughObjectStore(t *testing.T) {
	objects := map[string][]byte{}
	writeFixtures(t, func(name string, payload []byte) {
		objects["finance/"+name+".parquet"] = payload
	})

	loader := &Loader{Source: ObjectStoreSource{Store: &memoryStore{objects: objects}, Prefix: "finance"}}
	store, err := loader.Load(context.Background(), nil)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	clients, _ := store.Table(TableClients)
	if len(clients.Rows) != 2 || clients.Rows[1][1] != "Bright Legal" {
		t.Fatalf("clients rows = %#v", clients.Rows)
	}
}

func TestLoaderPrefersDownloader(t *testing.T) {
	objects := map[string][]byte{}
	writeFixtures(t, func(name string, payload []byte) {
		objects[name+".parquet"] = payload
	})
	downloads := &downloadingStore{memoryStore: memoryStore{objects: objects}}

	loader := &Loader{Source: ObjectStoreSource{Store: downloads}}
	if _, err := loader.Load(context.Background(), nil); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if downloads.count.Load() != int32(len(RequiredTables)) {
		t.Fatalf("downloads = %d", downloads.count.Load())
	}
}

func TestLoaderFailsOnMissingTable(t *testing.T) {
	dir := t.TempDir()
	loader := &Loader{Source: DirSource{Dir: dir}}
	if _, err := loader.Load(context.Background(), nil); err == nil {
		t.Fatal("Load() expected error for missing parquet files")
	}
}

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "clients.parquet")
	if err := writeFile(target, bytes.NewReader([]byte("PAR1"))); err != nil {
		t.Fatalf("writeFile() error = %v", err)
	}
	if got, err := os.ReadFile(target); err != nil || string(got) != "PAR1" {
		t.Fatalf("ReadFile() = %q, %v", got, err)
	}

	if err := writeFile(filepath.Join(dir, "short.parquet"), failingReader{}); err == nil {
		t.Fatal("writeFile() expected error for failing reader")
	}
	if err := writeFile(filepath.Join(dir, "missing", "x.parquet"), bytes.NewReader(nil)); err == nil {
		t.Fatal("writeFile() expected error for missing directory")
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, io.ErrUnexpectedEOF
}

func writeFixtures(t *testing.T, write func(name string, payload []byte)) {
	t.Helper()
	day := func(year int, month time.Month, d int) int32 {
		return int32(time.Date(year, month, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
	}
	write(TableClients, buildParquet(t, []clientRow{
		{ClientID: "C001", Name: "Acme Corp", Country: "UK"},
		{ClientID: "C002", Name: "Bright Legal", Country: "Germany"},
	}))
	write(TableInvoices, buildParquet(t, []invoiceRow{
		{InvoiceID: "I1001", ClientID: "C001", InvoiceDate: day(2024, time.January, 15), FXRate: 1.27},
		{InvoiceID: "I1002", ClientID: "C002", InvoiceDate: day(2024, time.February, 3), FXRate: 1.08},
	}))
	write(TableLineItems, buildParquet(t, []lineItemRow{
		{LineID: "L1", InvoiceID: "I1001", Quantity: 3, UnitPrice: 250},
	}))
}

func buildParquet[T any](t *testing.T, rows []T) []byte {
	t.Helper()
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if _, err := writer.Write(rows); err != nil {
		t.Fatalf("parquet Write() error = %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("parquet Close() error = %v", err)
	}
	return buf.Bytes()
}

type memoryStore struct {
	objects map[string][]byte
}

func (m *memoryStore) Put(context.Context, string, io.Reader, int64, storage.PutOptions) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	payload, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(payload)), nil
}

func (m *memoryStore) Stat(context.Context, string) (storage.ObjectInfo, error) {
	return storage.ObjectInfo{}, nil
}

type downloadingStore struct {
	memoryStore
	count atomic.Int32
}

func (d *downloadingStore) Download(_ context.Context, key, localPath string) (storage.ObjectInfo, error) {
	payload, ok := d.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	d.count.Add(1)
	return storage.ObjectInfo{Key: key, Size: int64(len(payload))}, os.WriteFile(localPath, payload, 0o644)
}
