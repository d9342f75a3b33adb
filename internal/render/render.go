// Package render produces the documents handed to drivers: the check-in
// QR code of a reservation and the PDF receipt of a paid session.
package render

import (
	"bytes"
	"fmt"
	"time"

	"github.com/phpdave11/gofpdf"
	"github.com/skip2/go-qrcode"

	"github.com/iliyamo/parking-reservation/internal/model"
)

// QRSize is the edge of generated QR codes in pixels.
const QRSize = 256

// ReceiptPrefix starts the payload printed as a QR code on receipts.
const ReceiptPrefix = "linknpark:session:"

// QR encodes payload as a PNG QR code.
func QR(payload string) ([]byte, error) {
	if payload == "" {
		return nil, fmt.Errorf("render: empty qr payload")
	}
	return qrcode.Encode(payload, qrcode.Medium, QRSize)
}

// Receipt renders a one page PDF for a paid session. Times are printed in
// loc; a nil loc means UTC.
func Receipt(sess model.ParkingSession, lot model.ParkingLot, loc *time.Location) ([]byte, error) {
	if sess.PaymentStatus != model.PaymentPaid {
		return nil, fmt.Errorf("render: session %s is not paid", sess.ID)
	}
	if loc == nil {
		loc = time.UTC
	}
	qr, err := QR(ReceiptPrefix + sess.ID)
	if err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Parking receipt "+sess.ID, true)
	pdf.AddPage()
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, "Parking receipt", "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 6, lot.Name, "", 1, "L", false, 0, "")
	if lot.Address != "" {
		pdf.CellFormat(0, 6, lot.Address, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	line := func(label, value string) {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(45, 8, label, "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, value, "", 1, "L", false, 0, "")
	}
	line("Session", sess.ID)
	line("Plate", sess.LicensePlate)
	line("Spot", sess.SpotCode)
	line("Entered", stamp(sess.EnteredAt, loc))
	if sess.ExitedAt.Valid {
		line("Exited", stamp(sess.ExitedAt.Time, loc))
	}
	line("Duration", fmt.Sprintf("%d min", sess.DurationMinutes))
	if sess.FeeOverride {
		line("Fee", fmt.Sprintf("%.2f (override: %s)", sess.TotalAmount, sess.FeeOverrideReason.String))
	} else {
		line("Rate", fmt.Sprintf("%.2f / hour", sess.HourlyRate))
		line("Fee", fmt.Sprintf("%.2f", sess.TotalAmount))
	}
	line("Paid", fmt.Sprintf("%.2f", sess.AmountPaid))
	if sess.PaymentMethod.Valid {
		line("Method", sess.PaymentMethod.String)
	}
	if sess.PaidAt.Valid {
		line("Paid at", stamp(sess.PaidAt.Time, loc))
	}

	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("qr", opts, bytes.NewReader(qr))
	pdf.ImageOptions("qr", 150, 30, 40, 40, false, opts, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render: receipt: %w", err)
	}
	return buf.Bytes(), nil
}

func stamp(t time.Time, loc *time.Location) string {
	return t.In(loc).Format("2006-01-02 15:04 MST")
}
