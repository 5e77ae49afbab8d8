package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/gwillem/keyforce/pkg/force"
	"github.com/gwillem/keyforce/pkg/teleop"
	"github.com/gwillem/keyforce/pkg/transport/servo"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	subHeaderStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("14"))
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

const (
	spinForce    = 30.0
	spinDuration = 800 * time.Millisecond
)

type SetupCommand struct{}

func (c *SetupCommand) Execute(args []string) error {
	fmt.Println(headerStyle.Render("KeyForce Setup"))
	fmt.Println(dimStyle.Render("━━━━━━━━━━━━━━"))
	fmt.Println()

	if force.ConfigExists(opts.Config) {
		fmt.Println(dimStyle.Render("Editing " + opts.Config))
		fmt.Println()
	}
	cfg, err := force.LoadConfigFrom(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := askGeneral(cfg); err != nil {
		return err
	}

	fmt.Println()
	fmt.Println(subHeaderStyle.Render("━━━ " + cfg.Transport + " ━━━"))
	fmt.Println()

	switch cfg.Transport {
	case force.TransportMQTT:
		err = askMQTT(&cfg.MQTT)
	case force.TransportWebSocket:
		err = askWebSocket(&cfg.WebSocket)
	case force.TransportServo:
		err = setupServo(&cfg.Servo)
	}
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.SaveTo(opts.Config); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Println()
	fmt.Println(summaryTable(cfg))
	fmt.Println()
	fmt.Println(successStyle.Render("Setup complete!"))
	fmt.Printf("Configuration saved to %s\n", opts.Config)
	fmt.Println()
	fmt.Println("Start teleoperation with: " + headerStyle.Render("keyforce teleoperate"))
	return nil
}

func validateRate(s string) error {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.New("enter a number")
	}
	if v < 0 {
		return errors.New("must not be negative")
	}
	return nil
}

func validateRequired(s string) error {
	if s == "" {
		return errors.New("required")
	}
	return nil
}

func askGeneral(cfg *force.Config) error {
	rate := strconv.FormatFloat(cfg.RepeatRate, 'g', -1, 64)
	timeout := strconv.FormatFloat(cfg.KeyTimeout, 'g', -1, 64)

	var options []huh.Option[string]
	for _, t := range force.Transports() {
		options = append(options, huh.NewOption(t, t))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Transport").
				Description("Where force commands are published").
				Options(options...).
				Value(&cfg.Transport),
			huh.NewInput().
				Title("Repeat rate (Hz)").
				Description("0 publishes only when a key changes the command").
				Value(&rate).
				Validate(validateRate),
			huh.NewInput().
				Title("Key timeout (s)").
				Description("0 waits for a key forever").
				Value(&timeout).
				Validate(validateRate),
		),
	)
	if err := form.Run(); err != nil {
		return err
	}

	cfg.RepeatRate, _ = strconv.ParseFloat(rate, 64)
	cfg.KeyTimeout, _ = strconv.ParseFloat(timeout, 64)
	return nil
}

func askMQTT(mc *force.MQTTConfig) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Broker").Placeholder("tcp://localhost:1883").Value(&mc.Broker).Validate(validateRequired),
			huh.NewInput().Title("Client ID").Value(&mc.ClientID).Validate(validateRequired),
			huh.NewInput().Title("Topic").Value(&mc.Topic).Validate(validateRequired),
		),
	).Run()
}

func askWebSocket(wc *force.WebSocketConfig) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Listen address").Placeholder(":8080").Value(&wc.Addr).Validate(validateRequired),
			huh.NewInput().Title("Path").Placeholder("/force_control").Value(&wc.Path).Validate(validateRequired),
		),
	).Run()
}

func setupServo(sc *force.ServoConfig) error {
	ports, err := servo.Ports()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		return errors.New("no serial ports found; connect the servo bus and try again")
	}

	var options []huh.Option[string]
	for _, p := range ports {
		options = append(options, huh.NewOption(p, p))
	}
	if sc.Port == "" {
		sc.Port = ports[0]
	}
	if err := huh.NewSelect[string]().
		Title("Servo bus").
		Options(options...).
		Value(&sc.Port).
		Run(); err != nil {
		return err
	}

	if !sc.IsCalibrated() {
		sc.Thrusters = force.DefaultCalibration()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	ids, err := servo.Scan(ctx, sc.Port, sc.Thrusters)
	cancel()
	if err != nil {
		return err
	}
	fmt.Printf("Found servo IDs %v on %s\n", ids, sc.Port)

	return checkDirections(sc)
}

// checkDirections spins each thruster forward and asks whether it turned
// the expected way, flipping Reverse when it did not.
func checkDirections(sc *force.ServoConfig) error {
	thrusters, err := servo.Open(context.Background(), sc.Port, sc.Thrusters)
	if err != nil {
		return err
	}
	defer thrusters.Close()

	for _, name := range force.AllThrusters() {
		fmt.Printf("\n  Spinning %s thruster...\n", name)
		if err := spin(thrusters, name); err != nil {
			return err
		}

		forward := true
		if err := huh.NewConfirm().
			Title(fmt.Sprintf("Did %s push in the positive direction?", name)).
			Affirmative("Yes").
			Negative("No, reverse it").
			Value(&forward).
			Run(); err != nil {
			return err
		}

		tc := sc.Thrusters[name]
		if !forward {
			tc.Reverse = !tc.Reverse
		}
		sc.Thrusters[name] = tc
	}
	return nil
}

// spin runs one thruster briefly and stops it again.
func spin(thrusters teleop.Publisher, name force.ThrusterName) error {
	if err := thrusters.Publish(force.AxisCommand(name, spinForce)); err != nil {
		thrusters.Publish(force.Command{})
		return fmt.Errorf("spin %s: %w", name, err)
	}
	time.Sleep(spinDuration)
	if err := thrusters.Publish(force.Command{}); err != nil {
		return fmt.Errorf("stop %s: %w", name, err)
	}
	return nil
}

func summaryTable(cfg *force.Config) string {
	rows := [][]string{
		{"transport", cfg.Transport},
		{"repeat rate", strconv.FormatFloat(cfg.RepeatRate, 'g', -1, 64) + " Hz"},
		{"key timeout", strconv.FormatFloat(cfg.KeyTimeout, 'g', -1, 64) + " s"},
	}
	switch cfg.Transport {
	case force.TransportMQTT:
		rows = append(rows,
			[]string{"broker", cfg.MQTT.Broker},
			[]string{"client id", cfg.MQTT.ClientID},
			[]string{"topic", cfg.MQTT.Topic},
		)
	case force.TransportWebSocket:
		rows = append(rows, []string{"listen", cfg.WebSocket.Addr + cfg.WebSocket.Path})
	case force.TransportServo:
		rows = append(rows, []string{"port", cfg.Servo.Port})
		for _, name := range force.AllThrusters() {
			tc := cfg.Servo.Thrusters[name]
			rows = append(rows, []string{string(name), fmt.Sprintf("id %d  [%d, %d]  reverse=%t", tc.ID, tc.RangeMin, tc.RangeMax, tc.Reverse)})
		}
	}

	keyStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Padding(0, 1)
	cellStyle := lipgloss.NewStyle().Padding(0, 1)

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(dimStyle).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return keyStyle
			}
			return cellStyle
		}).
		Render()
}
