package adb

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/nomor/memclear/internal/domain"
)

var (
	quotedAttrRe  = regexp.MustCompile(`(\w+)="([^"]*)"`)
	usagePkgRe    = regexp.MustCompile(`^\s*package=(\S+)`)
	processRecRe  = regexp.MustCompile(`ProcessRecord\{\S+ (\d+):([^/\s}]+)`)
	pkgListRe     = regexp.MustCompile(`^\s*(?:pkgList|packageList)=\{([^}]*)\}`)
	oomCurRe      = regexp.MustCompile(`\boom(?: adj)?:.*\bcur=(-?\d+)`)
	serviceRecRe  = regexp.MustCompile(`ServiceRecord\{\S+ u\d+ ([^/\s}]+)/([^\s}]+)\}`)
	getpropLineRe = regexp.MustCompile(`^\[([^\]]+)\]: \[(.*)\]$`)
	boundsRe      = regexp.MustCompile(`\[(-?\d+),(-?\d+)\]\[(-?\d+),(-?\d+)\]`)
	pkgFlagsRe    = regexp.MustCompile(`^\s*(?:pkgFlags|flags)=\[([^\]]*)\]`)
	labelRe       = regexp.MustCompile(`^\s*(?:nonLocalizedLabel|label)=(.+)$`)
)

const usageTimeLayout = "2006-01-02 15:04:05"

// parsePackageList parses `pm list packages` output.
func parsePackageList(out string) []string {
	var pkgs []string
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if id, ok := strings.CutPrefix(line, "package:"); ok && id != "" {
			pkgs = append(pkgs, id)
		}
	}
	return pkgs
}

// parseUsageStats parses the package lines of `dumpsys usagestats`. The same
// package appears once per interval bucket; records are merged keeping the
// latest timestamps and the largest foreground total.
func parseUsageStats(out string, loc *time.Location) []domain.UsageRecord {
	byPkg := make(map[string]*domain.UsageRecord)
	var order []string

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		m := usagePkgRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		attrs := make(map[string]string)
		for _, kv := range quotedAttrRe.FindAllStringSubmatch(line, -1) {
			attrs[kv[1]] = kv[2]
		}
		rec := domain.UsageRecord{
			PackageID:       m[1],
			LastUsed:        parseUsageTime(attrs["lastTimeUsed"], loc),
			LastVisible:     parseUsageTime(attrs["lastTimeVisible"], loc),
			TotalForeground: parseElapsed(attrs["totalTimeUsed"]),
		}

		prev, ok := byPkg[rec.PackageID]
		if !ok {
			r := rec
			byPkg[rec.PackageID] = &r
			order = append(order, rec.PackageID)
			continue
		}
		if rec.LastUsed.After(prev.LastUsed) {
			prev.LastUsed = rec.LastUsed
		}
		if rec.LastVisible.After(prev.LastVisible) {
			prev.LastVisible = rec.LastVisible
		}
		if rec.TotalForeground > prev.TotalForeground {
			prev.TotalForeground = rec.TotalForeground
		}
	}

	records := make([]domain.UsageRecord, 0, len(order))
	for _, id := range order {
		records = append(records, *byPkg[id])
	}
	return records
}

func parseUsageTime(s string, loc *time.Location) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.ParseInLocation(usageTimeLayout, s, loc)
	if err != nil || t.Year() <= 1970 {
		return time.Time{}
	}
	return t
}

// parseElapsed parses "MM:SS" or "H:MM:SS".
func parseElapsed(s string) time.Duration {
	if s == "" {
		return 0
	}
	parts := strings.Split(s, ":")
	var total time.Duration
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0
		}
		total = total*60 + time.Duration(n)
	}
	return total * time.Second
}

// parseProcesses parses ProcessRecord blocks of `dumpsys activity processes`.
func parseProcesses(out string) []domain.ProcessInfo {
	var procs []domain.ProcessInfo
	var cur *domain.ProcessInfo

	flush := func() {
		if cur == nil {
			return
		}
		if len(cur.Packages) == 0 {
			cur.Packages = []string{cur.Name}
		}
		procs = append(procs, *cur)
		cur = nil
	}

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "*APP*") || strings.Contains(line, "*PERS*") {
			if m := processRecRe.FindStringSubmatch(line); m != nil {
				flush()
				pid, _ := strconv.Atoi(m[1])
				cur = &domain.ProcessInfo{PID: pid, Name: m[2], Importance: domain.ImportanceCached}
			}
			continue
		}
		if cur == nil {
			continue
		}
		if m := pkgListRe.FindStringSubmatch(line); m != nil {
			for _, p := range strings.Split(m[1], ",") {
				if p = strings.TrimSpace(p); p != "" {
					cur.Packages = append(cur.Packages, p)
				}
			}
			continue
		}
		if m := oomCurRe.FindStringSubmatch(line); m != nil {
			adj, _ := strconv.Atoi(m[1])
			cur.Importance = importanceFromAdj(adj)
		}
	}
	flush()
	return procs
}

// importanceFromAdj maps an oom_adj score onto the importance scale.
func importanceFromAdj(adj int) domain.Importance {
	switch {
	case adj <= 0:
		return domain.ImportanceForeground
	case adj < 200:
		return domain.ImportanceVisible
	case adj < 900:
		return domain.ImportanceService
	default:
		return domain.ImportanceCached
	}
}

// parseServices parses `dumpsys activity services`.
func parseServices(out string) []domain.ServiceInfo {
	var services []domain.ServiceInfo
	seen := make(map[string]bool)
	for _, m := range serviceRecRe.FindAllStringSubmatch(out, -1) {
		key := m[1] + "/" + m[2]
		if seen[key] {
			continue
		}
		seen[key] = true
		services = append(services, domain.ServiceInfo{PackageID: m[1], ClassName: m[2]})
	}
	return services
}

// parseGetprop parses `getprop` output into a map.
func parseGetprop(out string) map[string]string {
	props := make(map[string]string)
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		if m := getpropLineRe.FindStringSubmatch(strings.TrimSpace(scanner.Text())); m != nil {
			props[m[1]] = m[2]
		}
	}
	return props
}

// parsePackageDump extracts the system flag and label from `dumpsys package <id>`.
func parsePackageDump(packageID, out string) (*domain.InstalledApp, error) {
	if !strings.Contains(out, "Package ["+packageID+"]") {
		return nil, domain.ErrPackageNotFound
	}
	app := &domain.InstalledApp{PackageID: packageID}

	scanner := bufio.NewScanner(strings.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := pkgFlagsRe.FindStringSubmatch(line); m != nil {
			for _, f := range strings.Fields(m[1]) {
				if f == "SYSTEM" {
					app.IsSystem = true
				}
			}
			continue
		}
		if app.Label == "" {
			if m := labelRe.FindStringSubmatch(line); m != nil && m[1] != "null" {
				app.Label = strings.TrimSpace(m[1])
			}
		}
	}
	if app.Label == "" {
		app.Label = humanizePackage(packageID)
	}
	return app, nil
}

// humanizePackage derives a display name from the last meaningful segment,
// e.g. "com.spotify.music" -> "Spotify Music".
func humanizePackage(packageID string) string {
	parts := strings.Split(packageID, ".")
	if len(parts) > 1 {
		switch parts[0] {
		case "com", "org", "net", "io", "de", "jp", "kr", "cn", "co", "app":
			parts = parts[1:]
		}
	}
	if len(parts) > 2 {
		parts = parts[len(parts)-2:]
	}
	title := cases.Title(language.English)
	for i, p := range parts {
		parts[i] = title.String(strings.ReplaceAll(p, "_", " "))
	}
	return strings.Join(parts, " ")
}

// parseBounds returns the centre of "[x1,y1][x2,y2]".
func parseBounds(bounds string) (int, int, bool) {
	m := boundsRe.FindStringSubmatch(bounds)
	if m == nil {
		return 0, 0, false
	}
	x1, _ := strconv.Atoi(m[1])
	y1, _ := strconv.Atoi(m[2])
	x2, _ := strconv.Atoi(m[3])
	y2, _ := strconv.Atoi(m[4])
	return (x1 + x2) / 2, (y1 + y2) / 2, true
}
