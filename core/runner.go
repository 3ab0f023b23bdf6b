package core

import (
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"

	"iecdrive/config"
	"iecdrive/iec"
	"iecdrive/protocols"
)

// Runner runs the housekeeping jobs around a serving drive. Jobs only
// reach the drive through its mailbox.
type Runner struct {
	Config     *config.Config
	ConfigPath string
	Drive      *iec.Drive
	FS         protocols.FileSystem
	History    *HistoryManager
	Cron       *cron.Cron
}

func NewRunner(cfg *config.Config, configPath string, d *iec.Drive, fs protocols.FileSystem, hm *HistoryManager) *Runner {
	return &Runner{
		Config:     cfg,
		ConfigPath: configPath,
		Drive:      d,
		FS:         fs,
		History:    hm,
		Cron:       cron.New(),
	}
}

func (r *Runner) Start() error {
	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"keepalive", r.Config.Schedules.KeepAlive, r.keepAlive},
		{"history_flush", r.Config.Schedules.HistoryFlush, r.flushHistory},
		{"config_reload", r.Config.Schedules.ConfigReload, r.reloadConfig},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := r.Cron.AddFunc(job.spec, job.run); err != nil {
			return err
		}
		log.WithFields(log.Fields{"job": job.name, "cron": job.spec}).Info("scheduled job")
	}
	r.Cron.Start()
	return nil
}

// Stop waits for running jobs and flushes the history.
func (r *Runner) Stop() {
	<-r.Cron.Stop().Done()
	r.flushHistory()
}

// keepAlive hands the ping to the drive, which owns the backend connection
// while serving.
func (r *Runner) keepAlive() {
	if !r.Drive.Post(iec.KeepAliveMsg{Target: r.FS}) {
		log.Debug("keepalive skipped, drive busy")
	}
}

func (r *Runner) flushHistory() {
	if r.History == nil {
		return
	}
	if err := r.History.Save(); err != nil {
		log.WithError(err).Warn("saving mount history")
	}
}

// reloadConfig rereads the config file. Only the device id is applied to a
// running drive.
func (r *Runner) reloadConfig() {
	cfg, err := config.LoadConfig(r.ConfigPath)
	if err != nil {
		log.WithError(err).Warn("config reload failed")
		return
	}
	if cfg.DeviceID == r.Config.DeviceID {
		return
	}
	log.WithFields(log.Fields{"from": r.Config.DeviceID, "to": cfg.DeviceID}).Info("device id changed")
	if r.Drive.Post(iec.DeviceIDMsg{ID: cfg.DeviceID}) {
		r.Config.DeviceID = cfg.DeviceID
	}
}
