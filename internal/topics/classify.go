// Package topics partitions bag streams into processing categories and picks
// the synchronization and preview subsets.
package topics

import (
	"fmt"
	"strings"
)

// Stream is one named, typed channel in a bag. Identity is Name.
type Stream struct {
	Name string
	Type string
}

// Category is the pipeline a stream is routed to.
type Category int

const (
	Ignored Category = iota
	Image
	Pointcloud
	Misc
)

func (c Category) String() string {
	switch c {
	case Image:
		return "image"
	case Pointcloud:
		return "pointcloud"
	case Misc:
		return "misc"
	default:
		return "ignored"
	}
}

// categories maps normalized message types (package/Type) to categories.
var categories = map[string]Category{
	"sensor_msgs/Image":           Image,
	"sensor_msgs/CompressedImage": Image,

	"sensor_msgs/PointCloud2": Pointcloud,
	"sensor_msgs/PointCloud":  Pointcloud,

	"sensor_msgs/NavSatFix":                    Misc,
	"sensor_msgs/Imu":                          Misc,
	"sensor_msgs/MagneticField":                Misc,
	"sensor_msgs/Temperature":                  Misc,
	"sensor_msgs/FluidPressure":                Misc,
	"sensor_msgs/TimeReference":                Misc,
	"sensor_msgs/CameraInfo":                   Misc,
	"gps_msgs/GPSFix":                          Misc,
	"nav_msgs/Odometry":                        Misc,
	"geometry_msgs/PoseStamped":                Misc,
	"geometry_msgs/PoseWithCovarianceStamped":  Misc,
	"geometry_msgs/TwistStamped":               Misc,
	"geometry_msgs/TwistWithCovarianceStamped": Misc,
	"geometry_msgs/Vector3Stamped":             Misc,
	"geometry_msgs/QuaternionStamped":          Misc,
	"std_msgs/String":                          Misc,
	"std_msgs/Bool":                            Misc,
	"std_msgs/Float32":                         Misc,
	"std_msgs/Float64":                         Misc,
	"std_msgs/Int32":                           Misc,
	"std_msgs/Int64":                           Misc,
	"std_msgs/Header":                          Misc,
	"diagnostic_msgs/DiagnosticArray":          Misc,
	"tf2_msgs/TFMessage":                       Misc,
	"rcl_interfaces/Log":                       Misc,
}

// normalizeType folds ROS 2 "pkg/msg/Type" onto ROS 1 "pkg/Type".
func normalizeType(typ string) string {
	return strings.Replace(strings.TrimSpace(typ), "/msg/", "/", 1)
}

// CategoryOf returns the category for a message type. Unknown types are Ignored.
func CategoryOf(typ string) Category {
	return categories[normalizeType(typ)]
}

// DirName turns a topic name into a single path component:
// "/camera/front/image_raw" becomes "camera_front_image_raw".
func DirName(topic string) string {
	return strings.ReplaceAll(strings.TrimLeft(topic, "/"), "/", "_")
}

// SyncContainer is the directory name the synchronization tool writes its
// bag to, next to the synced stream directories. No image stream may use it.
const SyncContainer = "_synced_bag"

// Filter carries the run configuration the classifier needs.
type Filter struct {
	Blacklist     []string
	Sync          bool
	SyncTopics    []string
	PreviewTopics []string
}

// Selection is the classifier's output. It is built fresh for every run and
// owned by that run.
type Selection struct {
	Images      []Stream
	Pointclouds []Stream
	Misc        []Stream
	Ignored     []Stream

	// Sync is the subset of Images to time-synchronize. SyncEnabled is false
	// when sync was not requested or the subset came out empty.
	Sync        []Stream
	SyncEnabled bool

	// Preview is the ordered subset of image streams composed into the preview.
	Preview []Stream

	// Warnings explain features that were disabled for this run.
	Warnings []string
}

// Category reports which category a stream ended up in.
func (s *Selection) Category(name string) Category {
	for _, group := range []struct {
		streams []Stream
		cat     Category
	}{{s.Images, Image}, {s.Pointclouds, Pointcloud}, {s.Misc, Misc}} {
		for _, st := range group.streams {
			if st.Name == name {
				return group.cat
			}
		}
	}
	return Ignored
}

// Names returns the stream names in order.
func Names(streams []Stream) []string {
	names := make([]string, len(streams))
	for i, s := range streams {
		names[i] = s.Name
	}
	return names
}

// Classify partitions streams. The blacklist is applied first, so a
// blacklisted stream lands in Ignored whatever its type.
func Classify(streams []Stream, f Filter) Selection {
	blacklist := toSet(f.Blacklist)

	var sel Selection
	// Image and point-cloud streams each get a directory named by DirName;
	// a stream whose name maps onto a directory already taken is ignored.
	dirs := map[Category]map[string]string{
		Image:      {SyncContainer: ""},
		Pointcloud: {},
	}
	for _, s := range streams {
		if blacklist[s.Name] {
			sel.Ignored = append(sel.Ignored, s)
			continue
		}
		cat := CategoryOf(s.Type)
		if taken, ok := dirs[cat]; ok {
			dir := DirName(s.Name)
			owner, clash := taken[dir]
			switch {
			case dir == "":
				sel.warnf("%s has no usable directory name; stream ignored", s.Name)
			case clash && owner == "":
				sel.warnf("%s maps to reserved directory %q; stream ignored", s.Name, dir)
			case clash:
				sel.warnf("%s maps to directory %q already used by %s; stream ignored", s.Name, dir, owner)
			}
			if dir == "" || clash {
				sel.Ignored = append(sel.Ignored, s)
				continue
			}
			taken[dir] = s.Name
		}
		switch cat {
		case Image:
			sel.Images = append(sel.Images, s)
		case Pointcloud:
			sel.Pointclouds = append(sel.Pointclouds, s)
		case Misc:
			sel.Misc = append(sel.Misc, s)
		default:
			sel.Ignored = append(sel.Ignored, s)
		}
	}

	if f.Sync {
		wanted := toSet(f.SyncTopics)
		for _, s := range sel.Images {
			if wanted[s.Name] {
				sel.Sync = append(sel.Sync, s)
			}
		}
		if len(sel.Sync) == 0 {
			sel.warnf("sync requested but none of sync_topics %v is an image topic in this bag; synchronization disabled", f.SyncTopics)
		} else {
			sel.SyncEnabled = true
		}
	}

	candidates := sel.Images
	if sel.SyncEnabled {
		candidates = sel.Sync
	}
	byName := make(map[string]Stream, len(candidates))
	for _, s := range candidates {
		byName[s.Name] = s
	}
	seen := make(map[string]bool, len(f.PreviewTopics))
	for _, name := range f.PreviewTopics {
		if s, ok := byName[name]; ok && !seen[name] {
			seen[name] = true
			sel.Preview = append(sel.Preview, s)
		}
	}
	if len(sel.Preview) == 0 {
		if len(f.PreviewTopics) == 0 {
			sel.warnf("no preview_topics configured; preview disabled")
		} else {
			sel.warnf("none of preview_topics %v is an available image topic; preview disabled", f.PreviewTopics)
		}
	}

	return sel
}

func (s *Selection) warnf(format string, v ...interface{}) {
	s.Warnings = append(s.Warnings, fmt.Sprintf(format, v...))
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
