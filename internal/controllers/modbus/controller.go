package modbusctrl

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	mbserver "github.com/tbrandon/mbserver"

	"github.com/Agrid-Dev/stmq/internal/applog"
	"github.com/Agrid-Dev/stmq/internal/heating"
	"github.com/Agrid-Dev/stmq/internal/ports"
)

// Register map. Coils:
//
//	0  heat on (read)
//	1  write 1 to start a decision cycle
//
// Input registers (signed, 0x8000 when unknown):
//
//	0  price, c/kWh x100
//	1  threshold, c/kWh x100 (saturates when unrestricted)
//	2  action code (0, 15, 60)
//	3  inside temperature x100
//	4  garage temperature x100
//	5  outside temperature x100
//	6  heating hours x100
//	7  periods left
//	8  target periods
const (
	CoilHeatOn = 0
	CoilAdjust = 1
)

const (
	IRPrice = iota
	IRThreshold
	IRAction
	IRInside
	IRGarage
	IROutside
	IRHours
	IRPeriodsLeft
	IRTarget
	inputRegisterCount
)

const (
	TemperatureScale = 100
	// EUR/MWh to c/kWh x100.
	PriceScale       = 10

	NotAvailable uint16 = 0x8000
)

type Config struct {
	Addr   string
	UnitID byte // Modbus slave/unit ID, 1..247.
}

type Controller struct {
	svc ports.HeatingService
	cfg Config
	log *applog.Logger

	serv *mbserver.Server
}

func New(svc ports.HeatingService, cfg Config, log *applog.Logger) (*Controller, error) {
	if cfg.UnitID == 0 {
		return nil, errors.New("modbus: UnitID is required (non-zero)")
	}
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:1502"
	}
	return &Controller{svc: svc, cfg: cfg, log: log.With("modbus")}, nil
}

// Run starts the Modbus server and blocks until ctx is canceled. Reads are
// served from the latest decision.
func (c *Controller) Run(ctx context.Context) error {
	serv := mbserver.NewServer()
	c.serv = serv

	// Handlers go in before the listener starts.
	serv.RegisterFunctionHandler(1, c.readCoils)
	serv.RegisterFunctionHandler(4, c.readInputRegisters)
	serv.RegisterFunctionHandler(5, func(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
		return c.writeCoil(ctx, frame.GetData())
	})

	if err := serv.ListenTCP(c.cfg.Addr); err != nil {
		return fmt.Errorf("mbserver listen tcp %s: %w", c.cfg.Addr, err)
	}
	c.log.Infof("listening on %s (unit %d)", c.cfg.Addr, c.cfg.UnitID)

	<-ctx.Done()
	serv.Close()
	return ctx.Err()
}

func (c *Controller) readCoils(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 2000 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > CoilAdjust+1 {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	st := c.svc.Status()
	var bits byte
	for i := 0; i < qty; i++ {
		on := false
		switch start + i {
		case CoilHeatOn:
			on = st.Last != nil && st.Last.HeatOn
		case CoilAdjust:
			on = st.CycleRunning
		}
		if on {
			bits |= 1 << i
		}
	}
	return []byte{1, bits}, &mbserver.Success
}

func (c *Controller) readInputRegisters(_ *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	start := int(binary.BigEndian.Uint16(data[0:2]))
	qty := int(binary.BigEndian.Uint16(data[2:4]))
	if qty == 0 || qty > 125 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	if start+qty > inputRegisterCount {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	regs := inputRegisters(c.svc.Status())
	byteCount := qty * 2
	resp := make([]byte, 1+byteCount)
	resp[0] = byte(byteCount)
	for i := 0; i < qty; i++ {
		binary.BigEndian.PutUint16(resp[1+i*2:3+i*2], regs[start+i])
	}
	return resp, &mbserver.Success
}

func (c *Controller) writeCoil(ctx context.Context, data []byte) ([]byte, *mbserver.Exception) {
	if len(data) < 4 {
		return []byte{}, &mbserver.IllegalDataValue
	}
	addr := binary.BigEndian.Uint16(data[0:2])
	value := binary.BigEndian.Uint16(data[2:4])
	if addr != CoilAdjust {
		return []byte{}, &mbserver.IllegalDataAddress
	}

	switch value {
	case 0x0000:
	case 0xFF00:
		// A cycle can take longer than a Modbus client waits.
		go func() {
			if _, err := c.svc.Adjust(ctx); err != nil {
				c.log.Warnf("adjust: %v", err)
			}
		}()
	default:
		return []byte{}, &mbserver.IllegalDataValue
	}

	resp := make([]byte, 4)
	copy(resp, data[0:4])
	return resp, &mbserver.Success
}

func inputRegisters(st heating.Status) [inputRegisterCount]uint16 {
	var regs [inputRegisterCount]uint16
	for i := range regs {
		regs[i] = NotAvailable
	}
	regs[IRPeriodsLeft] = uint16(min(st.PeriodsLeft, math.MaxUint16))

	d := st.Last
	if d == nil {
		return regs
	}
	regs[IRPrice] = encodeScaled(d.Price, PriceScale)
	regs[IRThreshold] = encodeScaled(d.Threshold.Threshold, PriceScale)
	regs[IRAction] = uint16(d.Action.Code())
	regs[IRInside] = encodeTemp(d.Readings.Inside.Value, d.Readings.Inside.Valid)
	regs[IRGarage] = encodeTemp(d.Readings.Garage.Value, d.Readings.Garage.Valid)
	regs[IROutside] = encodeTemp(d.Readings.Outside.Value, d.Readings.Outside.Valid)
	regs[IRHours] = encodeScaled(d.Threshold.Hours, 100)
	regs[IRTarget] = uint16(min(max(d.Threshold.Target, 0), math.MaxUint16))
	return regs
}

func encodeTemp(v float64, valid bool) uint16 {
	if !valid {
		return NotAvailable
	}
	return encodeScaled(v, TemperatureScale)
}

// encodeScaled saturates to the int16 range; the minimum is reserved for NaN.
func encodeScaled(v float64, scale int) uint16 {
	if math.IsNaN(v) {
		return NotAvailable
	}
	r := math.Round(v * float64(scale))
	r = min(max(r, math.MinInt16+1), math.MaxInt16)
	return uint16(int16(r))
}
