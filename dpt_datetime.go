package knxtunnel

import "fmt"

// TimeOfDay is the value carried by DPT10. Weekday is 0 for "no day",
// 1-7 for Monday-Sunday (KNX convention, not Go's time.Weekday).
type TimeOfDay struct {
	Weekday uint8
	Hour    uint8
	Minute  uint8
	Second  uint8
}

// Date is the value carried by DPT11. Year is the full four-digit year
// after the 2-digit wire value has been windowed (90-99 -> 1990s, 0-89 ->
// 2000s).
type Date struct {
	Day   uint8
	Month uint8
	Year  int
}

// DateTime is the value carried by DPT19. The Working*/No* fields mirror
// the KNX standard's validity flags: a gateway may send a timestamp with
// some fields unset, signalled by the corresponding No* flag rather than
// by a sentinel value.
type DateTime struct {
	Year    int
	Month   uint8
	Day     uint8
	Weekday uint8
	Hour    uint8
	Minute  uint8
	Second  uint8

	Fault bool

	// WorkingDay/NoWorkingDay: WorkingDay is only meaningful when
	// NoWorkingDay is false.
	WorkingDay   bool
	NoWorkingDay bool

	NoYear      bool
	NoDate      bool
	NoDayOfWeek bool
	NoTime      bool

	// SummerTime reports daylight saving time is in effect.
	SummerTime bool

	// ExternalSync reports the sender's clock is synchronised to an
	// external time source (byte 7, clock quality).
	ExternalSync bool
}

// ---- DPT 10: time of day -----------------------------------------------------

const DPT10TimeOfDay DPT = "10.001"

func registerDPT10() {
	register(DPT10TimeOfDay, Codec{Bits: 24, Encode: encodeDPT10, Decode: decodeDPT10})
}

func encodeDPT10(v Value) ([]byte, error) {
	if v.Kind != KindTimeOfDay {
		return nil, fmt.Errorf("%w: DPT10 expects a TimeOfDay value", ErrEncodingFailed)
	}
	t := v.TimeOfDay
	if t.Weekday > 7 || t.Hour > 23 || t.Minute > 59 || t.Second > 59 {
		return nil, fmt.Errorf("%w: time of day fields out of range", ErrDptRange)
	}
	b0 := t.Weekday<<5 | t.Hour
	return []byte{b0, t.Minute, t.Second}, nil
}

func decodeDPT10(data []byte) (Value, error) {
	if len(data) < 3 {
		return Value{}, fmt.Errorf("%w: DPT10 requires 3 bytes, got %d", ErrDptLength, len(data))
	}
	t := TimeOfDay{
		Weekday: (data[0] >> 5) & 0x07,
		Hour:    data[0] & 0x1F,
		Minute:  data[1] & 0x3F,
		Second:  data[2] & 0x3F,
	}
	return Value{Kind: KindTimeOfDay, TimeOfDay: t}, nil
}

// ---- DPT 11: date -------------------------------------------------------------

const DPT11Date DPT = "11.001"

const (
	dpt11YearWindow = 90 // wire years >= 90 mean 19xx, < 90 mean 20xx
	dpt11YearBase19 = 1900
	dpt11YearBase20 = 2000
)

func registerDPT11() {
	register(DPT11Date, Codec{Bits: 24, Encode: encodeDPT11, Decode: decodeDPT11})
}

func encodeDPT11(v Value) ([]byte, error) {
	if v.Kind != KindDate {
		return nil, fmt.Errorf("%w: DPT11 expects a Date value", ErrEncodingFailed)
	}
	d := v.Date
	if d.Day < 1 || d.Day > 31 || d.Month < 1 || d.Month > 12 {
		return nil, fmt.Errorf("%w: date fields out of range", ErrDptRange)
	}
	var wireYear int
	switch {
	case d.Year >= dpt11YearBase19+dpt11YearWindow && d.Year < dpt11YearBase20:
		wireYear = d.Year - dpt11YearBase19
	case d.Year >= dpt11YearBase20 && d.Year < dpt11YearBase20+dpt11YearWindow:
		wireYear = d.Year - dpt11YearBase20
	default:
		return nil, fmt.Errorf("%w: year %d outside 1990-2089 DPT11 window", ErrDptRange, d.Year)
	}
	return []byte{d.Day, d.Month, byte(wireYear)}, nil
}

func decodeDPT11(data []byte) (Value, error) {
	if len(data) < 3 {
		return Value{}, fmt.Errorf("%w: DPT11 requires 3 bytes, got %d", ErrDptLength, len(data))
	}
	wireYear := int(data[2] & 0x7F)
	year := dpt11YearBase20 + wireYear
	if wireYear >= dpt11YearWindow {
		year = dpt11YearBase19 + wireYear
	}
	d := Date{Day: data[0] & 0x1F, Month: data[1] & 0x0F, Year: year}
	return Value{Kind: KindDate, Date: d}, nil
}

// ---- DPT 19: date + time -------------------------------------------------------

const DPT19DateTime DPT = "19.001"

// DPT19 byte 6 validity/status flags.
const (
	dpt19FlagFault        = 0x80
	dpt19FlagWorkingDay   = 0x40
	dpt19FlagNoWorkingDay = 0x20
	dpt19FlagNoYear       = 0x10
	dpt19FlagNoDate       = 0x08
	dpt19FlagNoDayOfWeek  = 0x04
	dpt19FlagNoTime       = 0x02
	dpt19FlagSummerTime   = 0x01

	// dpt19ClockExternalSync is byte 7 bit 0: the clock is synchronised
	// with an external sync source (wire or radio). The remaining bits
	// of byte 7 are reserved and always transmitted as 0.
	dpt19ClockExternalSync = 0x01
)

func registerDPT19() {
	register(DPT19DateTime, Codec{Bits: 64, Encode: encodeDPT19, Decode: decodeDPT19})
}

func encodeDPT19(v Value) ([]byte, error) {
	if v.Kind != KindDateTime {
		return nil, fmt.Errorf("%w: DPT19 expects a DateTime value", ErrEncodingFailed)
	}
	dt := v.DateTime
	if dt.Year < dpt11YearBase19 || dt.Year > dpt11YearBase19+255 {
		return nil, fmt.Errorf("%w: year %d outside DPT19 range", ErrDptRange, dt.Year)
	}
	if dt.Month > 12 || dt.Day > 31 || dt.Weekday > 7 || dt.Hour > 23 || dt.Minute > 59 || dt.Second > 59 {
		return nil, fmt.Errorf("%w: date/time fields out of range", ErrDptRange)
	}
	data := make([]byte, 8)
	data[0] = byte(dt.Year - dpt11YearBase19)
	data[1] = dt.Month & 0x0F
	data[2] = dt.Day & 0x1F
	data[3] = dt.Weekday<<5 | dt.Hour
	data[4] = dt.Minute & 0x3F
	data[5] = dt.Second & 0x3F

	var flags byte
	if dt.Fault {
		flags |= dpt19FlagFault
	}
	if dt.WorkingDay {
		flags |= dpt19FlagWorkingDay
	}
	if dt.NoWorkingDay {
		flags |= dpt19FlagNoWorkingDay
	}
	if dt.NoYear {
		flags |= dpt19FlagNoYear
	}
	if dt.NoDate {
		flags |= dpt19FlagNoDate
	}
	if dt.NoDayOfWeek {
		flags |= dpt19FlagNoDayOfWeek
	}
	if dt.NoTime {
		flags |= dpt19FlagNoTime
	}
	if dt.SummerTime {
		flags |= dpt19FlagSummerTime
	}
	data[6] = flags

	if dt.ExternalSync {
		data[7] = dpt19ClockExternalSync
	}
	return data, nil
}

func decodeDPT19(data []byte) (Value, error) {
	if len(data) < 8 {
		return Value{}, fmt.Errorf("%w: DPT19 requires 8 bytes, got %d", ErrDptLength, len(data))
	}
	dt := DateTime{
		Year:    dpt11YearBase19 + int(data[0]),
		Month:   data[1] & 0x0F,
		Day:     data[2] & 0x1F,
		Weekday: (data[3] >> 5) & 0x07,
		Hour:    data[3] & 0x1F,
		Minute:  data[4] & 0x3F,
		Second:  data[5] & 0x3F,

		Fault:        data[6]&dpt19FlagFault != 0,
		WorkingDay:   data[6]&dpt19FlagWorkingDay != 0,
		NoWorkingDay: data[6]&dpt19FlagNoWorkingDay != 0,
		NoYear:       data[6]&dpt19FlagNoYear != 0,
		NoDate:       data[6]&dpt19FlagNoDate != 0,
		NoDayOfWeek:  data[6]&dpt19FlagNoDayOfWeek != 0,
		NoTime:       data[6]&dpt19FlagNoTime != 0,
		SummerTime:   data[6]&dpt19FlagSummerTime != 0,

		ExternalSync: data[7]&dpt19ClockExternalSync != 0,
	}
	return Value{Kind: KindDateTime, DateTime: dt}, nil
}
