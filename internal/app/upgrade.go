package app

import (
	"errors"

	"github.com/embervoice/ember-core/internal/device"
)

// upgradeFirmware runs the firmware upgrade procedure on the caller's
// goroutine (the activation worker).
//
// The session is closed and the audio pipeline stopped to free memory and
// CPU for the flash write. On success the device reboots and this function
// never returns to a running system. On failure the pipeline is restarted
// and the device returns to Idle on the old firmware; it is never left
// half-upgraded with audio disabled.
func (a *Application) upgradeFirmware(url, version string) error {
	if a.upgrader == nil {
		return errors.New("app: no firmware upgrader wired")
	}

	a.logger.Info("starting firmware upgrade", "url", url, "version", version)
	a.machine.TransitionTo(device.StateUpgrading)

	a.Schedule(func() {
		if ch := a.getChannel(); ch != nil && ch.IsAudioChannelOpened() {
			ch.CloseAudioChannel()
		}
		a.display.ShowNotification("upgrading firmware " + version)
		a.audio.PlaySound(SoundUpgrade)
		a.power.SetPowerSave(false)
	})

	a.audio.Stop()

	err := a.upgrader.Upgrade(url, version, func(percent int, speed float64) {
		a.logger.Info("firmware download progress",
			"percent", percent,
			"speed_bps", speed,
		)
	})
	if err != nil {
		a.logger.Error("firmware upgrade failed", "error", err)
		if startErr := a.audio.Start(); startErr != nil {
			a.logger.Error("restarting audio pipeline after failed upgrade", "error", startErr)
		}
		a.Schedule(func() {
			a.power.SetPowerSave(true)
			a.alert("error", "firmware upgrade failed", "sad")
		})
		a.machine.TransitionTo(device.StateIdle)
		return err
	}

	a.logger.Info("firmware flashed, rebooting", "version", version)
	if a.rebooter != nil {
		a.rebooter.Reboot()
	}
	return nil
}
