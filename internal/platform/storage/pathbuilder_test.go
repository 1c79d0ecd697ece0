package storage

import "testing"

func TestBuildDesignImagePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeDesignImage, PathParams{
		UserID:   "user-7",
		UploadID: "upload789",
		FileName: "unicorn-cake.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "designs/user-7/upload789/unicorn-cake.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildReceiptPathUsesReceiptNumber(t *testing.T) {
	path, err := BuildObjectPath(PurposeReceipt, PathParams{
		OrderID:       "order123",
		ReceiptNumber: "BAKE-2026-001",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "orders/order123/receipts/BAKE-2026-001.pdf"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeDesignImage, PathParams{
		UserID:   "../bad",
		UploadID: "upload",
		FileName: "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
